// Package resilience provides reliability patterns for outbound calls to
// generation and delivery providers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the externally visible breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker implements a circuit breaker for one upstream provider. It opens
// after maxFailures consecutive counted failures and rejects calls until the
// timeout elapses. It then admits a single probe: success closes the circuit,
// failure reopens it.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	now         func() time.Time // for testing

	// counts decides whether an error is the upstream's fault. Caller
	// cancellation and request errors should not trip the breaker.
	counts func(error) bool

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a circuit breaker named after the provider it guards.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		counts:      defaultCounts,
		state:       StateClosed,
	}
}

// WithFailureFilter replaces the predicate deciding which errors count.
func (b *Breaker) WithFailureFilter(counts func(error) bool) *Breaker {
	b.counts = counts
	return b
}

func defaultCounts(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the circuit is open. The error returned by fn is
// passed through unchanged.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err != nil && b.counts(err) {
		b.onFailure()
		return err
	}
	if err == nil {
		b.onSuccess()
	}
	return err
}

// State returns the current state, moving open to half-open if the timeout passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Name returns the provider name.
func (b *Breaker) Name() string { return b.name }

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = StateClosed
}
