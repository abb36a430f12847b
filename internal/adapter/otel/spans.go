package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "concierge"

// StartPipelineSpan starts a span for one user message through the pipeline.
func StartPipelineSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("user.id", userID),
		),
	)
}

// StartExecutionSpan starts a span for a single action execution.
func StartExecutionSpan(ctx context.Context, action, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("action.name", action),
			attribute.String("request.id", requestID),
		),
	)
}

// StartSandboxSpan starts a span for a sandboxed subprocess run.
func StartSandboxSpan(ctx context.Context, language string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sandbox",
		trace.WithAttributes(
			attribute.String("sandbox.language", language),
		),
	)
}
