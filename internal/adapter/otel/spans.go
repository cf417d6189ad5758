package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "overseer"

// StartSyncSpan starts a span for one board sync cycle.
func StartSyncSpan(ctx context.Context, mode, boardID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync.cycle",
		trace.WithAttributes(
			attribute.String("sync.mode", mode),
			attribute.String("sync.board_id", boardID),
		),
	)
}

// StartRecoverySpan starts a span for a recovery decision on a failed task.
func StartRecoverySpan(ctx context.Context, taskID, errorType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recovery.classify",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("error.type", errorType),
		),
	)
}

// StartRetrySpan starts a span for an automatic task re-dispatch.
func StartRetrySpan(ctx context.Context, taskID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "recovery.retry",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("retry.attempt", attempt),
		),
	)
}
