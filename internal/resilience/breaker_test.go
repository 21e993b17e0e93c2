package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("service unavailable")

func trip(b *Breaker, n int) {
	for range n {
		_ = b.Execute(func() error { return errTest })
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker("litellm", 3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, b.State())
}

func TestPassesThroughFnError(t *testing.T) {
	b := NewBreaker("litellm", 3, time.Second)
	assert.ErrorIs(t, b.Execute(func() error { return errTest }), errTest)
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("teams", 3, time.Second)
	trip(b, 3)

	err := b.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "teams")
	assert.Equal(t, StateOpen, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("litellm", 2, time.Second)
	trip(b, 1)
	require.NoError(t, b.Execute(func() error { return nil }))
	trip(b, 1)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker("video", 2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	// A second caller during the probe is rejected.
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("video", 2, time.Second)
	b.now = func() time.Time { return now }
	trip(b, 2)

	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errTest })

	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCanceledContextDoesNotTrip(t *testing.T) {
	b := NewBreaker("litellm", 1, time.Second)
	err := b.Execute(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestFailureFilter(t *testing.T) {
	errBadRequest := errors.New("400")
	b := NewBreaker("teams", 1, time.Second).WithFailureFilter(func(err error) bool {
		return !errors.Is(err, errBadRequest)
	})
	_ = b.Execute(func() error { return errBadRequest })
	assert.Equal(t, StateClosed, b.State())
	_ = b.Execute(func() error { return errTest })
	assert.Equal(t, StateOpen, b.State())
}
