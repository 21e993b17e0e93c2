package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/config"
	"github.com/Strob0t/PostForge/internal/domain/run"
)

// DailyScheduler creates one daily run per day at a fixed UTC time.
type DailyScheduler struct {
	runs  *RunService
	cfg   config.Schedule
	clock clock.Clock
	log   *slog.Logger
	after func(d time.Duration) <-chan time.Time
}

// NewDailyScheduler creates a scheduler. Call Run to start it.
func NewDailyScheduler(runs *RunService, cfg config.Schedule, c clock.Clock, log *slog.Logger) *DailyScheduler {
	return &DailyScheduler{runs: runs, cfg: cfg, clock: c, log: log, after: time.After}
}

// Run fires until ctx is done. A failed trigger is logged and the
// scheduler waits for the next day.
func (s *DailyScheduler) Run(ctx context.Context) error {
	hour, minute, err := parseTimeOfDay(s.cfg.TimeOfDay)
	if err != nil {
		return err
	}

	for {
		next := nextOccurrence(s.clock.Now(), hour, minute)
		s.log.Info("daily run scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(s.clock.Now())):
		}

		if _, err := s.Trigger(ctx); err != nil {
			s.log.Error("daily run trigger failed", "error", err)
		}
	}
}

// Trigger creates and enqueues one daily run now.
func (s *DailyScheduler) Trigger(ctx context.Context) (*run.Run, error) {
	return s.runs.CreateRun(ctx, run.CreateRequest{
		SourceType: run.SourceDaily,
		Tone:       run.Tone(s.cfg.Tone),
		Category:   run.Category(s.cfg.Category),
		Input: run.Input{
			RequestedMedia: run.RequestedMedia(s.cfg.Media),
		},
	})
}

func parseTimeOfDay(v string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule time_of_day %q: %w", v, err)
	}
	return t.Hour(), t.Minute(), nil
}

// nextOccurrence returns the first hour:minute UTC strictly after now.
func nextOccurrence(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
