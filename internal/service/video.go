package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/PostForge/internal/domain"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

// ErrVideoTimeout is returned when polling exhausts its attempt budget
// without the operation reporting completion.
var ErrVideoTimeout = errors.New("video generation timed out")

// VideoPolling configures the poll schedule: the first wait is Initial,
// each following wait doubles up to Max, and at most Attempts polls run.
type VideoPolling struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultVideoPolling waits 1s, 2s, 4s, then 8s per poll, seven polls total.
var DefaultVideoPolling = VideoPolling{Initial: time.Second, Max: 8 * time.Second, Attempts: 7}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p VideoPolling) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
	}
	b.Reset()
	return b
}

// generateVideo starts a video operation and polls it to completion.
func (o *Orchestrator) generateVideo(ctx context.Context, r run.Run) (run.Asset, stage.Metadata, error) {
	if o.stages.Video == nil {
		return run.Asset{}, nil, fmt.Errorf("video generator: %w", domain.ErrNotConfigured)
	}

	start := o.clock.Now()
	op, err := o.stages.Video.Start(ctx, mediaRequest(&r))
	if err != nil {
		return run.Asset{}, nil, err
	}

	b := o.video.backOff()
	var waited time.Duration
	for attempt := 1; attempt <= o.video.Attempts; attempt++ {
		wait := b.NextBackOff()
		if err := o.sleep(ctx, wait); err != nil {
			return run.Asset{}, nil, fmt.Errorf("poll video %s: %w", op.Name, err)
		}
		waited += wait

		res, err := o.stages.Video.Poll(ctx, op)
		if err != nil {
			return run.Asset{}, nil, err
		}
		if !res.Done {
			continue
		}
		if res.URI == "" {
			return run.Asset{}, nil, fmt.Errorf("video operation %s finished without a uri", op.Name)
		}

		elapsed := o.clock.Now().Sub(start)
		if elapsed < waited {
			elapsed = waited
		}
		asset := o.stages.Video.CreateAsset(r.ID, op, res.URI, elapsed)
		return asset, stage.Metadata{
			"model":     asset.Model,
			"operation": op.Name,
			"polls":     attempt,
			"latencyMs": asset.LatencyMs,
		}, nil
	}

	return run.Asset{}, nil, fmt.Errorf("%w: operation %s not done after %d polls", ErrVideoTimeout, op.Name, o.video.Attempts)
}
