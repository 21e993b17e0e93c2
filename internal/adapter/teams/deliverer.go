package teams

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/stage"
	"github.com/Strob0t/PostForge/internal/resilience"
)

// DeliveryStatusPosted is recorded on every successful delivery.
const DeliveryStatusPosted = "posted"

var _ stage.Deliverer = (*Deliverer)(nil)

// Config selects and configures the transport. WebhookURL wins over the
// Graph settings when both are present.
type Config struct {
	WebhookURL string
	GraphURL   string
	GraphToken string
	Timeout    time.Duration
}

// Deliverer posts finished runs to Teams.
type Deliverer struct {
	transport transport
	clock     clock.Clock
	breaker   *resilience.Breaker
}

// NewDeliverer picks the transport from cfg. With neither transport
// configured every Deliver call fails with domain.ErrNotConfigured.
func NewDeliverer(cfg Config, c clock.Clock) *Deliverer {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	d := &Deliverer{clock: c}
	switch {
	case cfg.WebhookURL != "":
		d.transport = &webhookTransport{url: cfg.WebhookURL, httpClient: httpClient}
	case cfg.GraphURL != "" && cfg.GraphToken != "":
		d.transport = &graphTransport{baseURL: cfg.GraphURL, token: cfg.GraphToken, httpClient: httpClient}
	}
	return d
}

// SetBreaker attaches a circuit breaker to outgoing posts.
func (d *Deliverer) SetBreaker(b *resilience.Breaker) {
	d.breaker = b
}

// Transport names the active transport, or "" when none is configured.
func (d *Deliverer) Transport() string {
	if d.transport == nil {
		return ""
	}
	return d.transport.name()
}

// Deliver posts the run's draft and assets to the requested channel.
func (d *Deliverer) Deliver(ctx context.Context, req stage.DeliveryRequest) (*stage.DeliveryResult, error) {
	if d.transport == nil {
		return nil, fmt.Errorf("teams transport: %w", domain.ErrNotConfigured)
	}
	if req.Run.Draft == nil {
		return nil, errors.New("teams: run has no draft to deliver")
	}
	if _, graph := d.transport.(*graphTransport); graph && (req.TeamID == "" || req.ChannelID == "") {
		return nil, fmt.Errorf("teams destination: team and channel ids are required: %w", domain.ErrNotConfigured)
	}

	start := time.Now()
	var messageID string
	call := func() error {
		id, err := d.transport.post(ctx, req.TeamID, req.ChannelID, req.Run)
		messageID = id
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	return &stage.DeliveryResult{
		Delivery: run.TeamsDelivery{
			TeamID:    req.TeamID,
			ChannelID: req.ChannelID,
			MessageID: messageID,
			Status:    DeliveryStatusPosted,
			PostedAt:  d.clock.Now(),
		},
		Metadata: stage.Metadata{
			"transport": d.transport.name(),
			"messageId": messageID,
			"latencyMs": time.Since(start).Milliseconds(),
		},
	}, nil
}

// CountsAsFailure reports whether err should trip the Teams breaker.
func CountsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
