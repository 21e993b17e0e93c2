package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// Telemetry records pipeline spans and metrics. It satisfies the
// orchestrator's telemetry hook.
type Telemetry struct {
	tracer  trace.Tracer
	metrics *Metrics
}

// NewTelemetry uses the global tracer and meter providers.
func NewTelemetry() (*Telemetry, error) {
	m, err := NewMetrics()
	if err != nil {
		return nil, err
	}
	return &Telemetry{tracer: otel.Tracer(tracerName), metrics: m}, nil
}

// NewTelemetryWith uses explicit providers.
func NewTelemetryWith(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	return &Telemetry{tracer: tp.Tracer(tracerName), metrics: m}, nil
}

func (t *Telemetry) StartStep(ctx context.Context, runID string, step steplog.StepName) (context.Context, func(error, time.Duration)) {
	ctx, span := StartStepSpan(ctx, t.tracer, runID, string(step))
	attrs := metric.WithAttributes(attribute.String("step", string(step)))

	return ctx, func(err error, d time.Duration) {
		t.metrics.StepDuration.Record(ctx, d.Seconds(), attrs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.metrics.StepsFailed.Add(ctx, 1, attrs)
		}
		span.End()
	}
}

func (t *Telemetry) RunStarted(ctx context.Context, _ string, source run.SourceType) {
	t.metrics.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
}

func (t *Telemetry) RunFinished(ctx context.Context, _ string, status run.Status) {
	switch status {
	case run.StatusPosted:
		t.metrics.RunsPosted.Add(ctx, 1)
	case run.StatusReviewReady:
		t.metrics.RunsReviewReady.Add(ctx, 1)
	case run.StatusFailed:
		t.metrics.RunsFailed.Add(ctx, 1)
	}
}
