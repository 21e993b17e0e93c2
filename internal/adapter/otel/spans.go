package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "postforge"

// StartStepSpan starts a span for one agent step of a run.
func StartStepSpan(ctx context.Context, tracer trace.Tracer, runID, step string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent_step."+step,
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.name", step),
		),
	)
}
