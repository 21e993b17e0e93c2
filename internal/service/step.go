package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/PostForge/internal/clock"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/logger"
	"github.com/Strob0t/PostForge/internal/port/stage"
)

// stepFunc is one stage invocation. It returns the stage output and the
// metadata to record on the completed log row.
type stepFunc[T any] func(ctx context.Context) (T, stage.Metadata, error)

// runStep wraps a stage invocation with its audit trail: a started row, then
// exactly one completed or failed row. The stage error is returned unchanged.
// A started row that cannot be written aborts the step before the stage
// runs; a terminal row that cannot be written is logged and does not change
// the step outcome.
func runStep[T any](ctx context.Context, o *Orchestrator, runID string, step steplog.StepName, fn stepFunc[T]) (T, error) {
	var zero T
	log := logger.From(logger.WithRunID(ctx, runID), o.log).With("step", string(step))

	started := steplog.Log{
		ID:        clock.NewID(),
		RunID:     runID,
		StepName:  step,
		Status:    steplog.StatusStarted,
		Message:   fmt.Sprintf("%s started", step),
		StartedAt: o.clock.Now(),
	}
	if err := o.store.AppendLog(ctx, &started); err != nil {
		return zero, fmt.Errorf("record %s start: %w", step, err)
	}
	o.bus.PublishLogAdded(started)

	stepCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}
	stepCtx, endSpan := o.telemetry.StartStep(stepCtx, runID, step)

	result, meta, err := fn(stepCtx)

	ended := o.clock.Now()
	duration := ended.Sub(started.StartedAt)
	endSpan(err, duration)

	final := steplog.Log{
		ID:        clock.NewID(),
		RunID:     runID,
		StepName:  step,
		StartedAt: started.StartedAt,
		EndedAt:   &ended,
	}
	if err != nil {
		final.Status = steplog.StatusFailed
		final.Message = fmt.Sprintf("%s failed", step)
		final.ErrorCode = steplog.ErrorCodeStepFailed
		final.ErrorMessage = err.Error()
	} else {
		final.Status = steplog.StatusCompleted
		final.Message = fmt.Sprintf("%s completed", step)
		final.Metadata = meta
	}

	if appendErr := o.store.AppendLog(ctx, &final); appendErr != nil {
		log.Error("record step outcome", "status", string(final.Status), "error", appendErr)
	} else {
		o.bus.PublishLogAdded(final)
	}

	attrs := []any{"status", string(final.Status), "duration_ms", duration.Milliseconds()}
	if err != nil {
		log.Error("agent step", append(attrs, "error_code", final.ErrorCode, "error", err)...)
		return zero, err
	}
	if len(meta) > 0 {
		attrs = append(attrs, slog.Any("metadata", metadataForLog(meta)))
	}
	log.Info("agent step", attrs...)
	return result, nil
}

// metadataForLog drops prompt bodies from the process log; they stay on the
// step log row.
func metadataForLog(meta stage.Metadata) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if k == "prompt" {
			continue
		}
		out[k] = v
	}
	return out
}
