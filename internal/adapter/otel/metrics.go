package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "postforge"

// Metrics holds all PostForge metric instruments.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsPosted      metric.Int64Counter
	RunsReviewReady metric.Int64Counter
	RunsFailed      metric.Int64Counter
	StepsFailed     metric.Int64Counter
	StepDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("postforge.runs.started",
		metric.WithDescription("Number of pipeline invocations started"))
	if err != nil {
		return nil, err
	}

	m.RunsPosted, err = meter.Int64Counter("postforge.runs.posted",
		metric.WithDescription("Number of runs delivered to a channel"))
	if err != nil {
		return nil, err
	}

	m.RunsReviewReady, err = meter.Int64Counter("postforge.runs.review_ready",
		metric.WithDescription("Number of runs finished awaiting manual delivery"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("postforge.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.StepsFailed, err = meter.Int64Counter("postforge.steps.failed",
		metric.WithDescription("Number of failed agent steps"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("postforge.step.duration_seconds",
		metric.WithDescription("Agent step duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
