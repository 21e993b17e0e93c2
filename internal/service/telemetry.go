package service

import (
	"context"
	"time"

	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// Telemetry receives pipeline lifecycle signals for tracing and metrics.
type Telemetry interface {
	// StartStep opens a span for one stage attempt. The returned function
	// ends it with the stage's error, or nil on success.
	StartStep(ctx context.Context, runID string, step steplog.StepName) (context.Context, func(err error, d time.Duration))
	RunStarted(ctx context.Context, runID string, source run.SourceType)
	RunFinished(ctx context.Context, runID string, status run.Status)
}

type nopTelemetry struct{}

func (nopTelemetry) StartStep(ctx context.Context, _ string, _ steplog.StepName) (context.Context, func(error, time.Duration)) {
	return ctx, func(error, time.Duration) {}
}

func (nopTelemetry) RunStarted(context.Context, string, run.SourceType) {}

func (nopTelemetry) RunFinished(context.Context, string, run.Status) {}
