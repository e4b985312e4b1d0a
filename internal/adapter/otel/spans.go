package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "personagov"

// StartStoreSpan starts a span for a single store call.
func StartStoreSpan(ctx context.Context, store, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, store+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", store),
			attribute.String("db.operation", op),
		),
	)
}

// StartSpendSpan starts a span for a ledger operation on one instance.
func StartSpendSpan(ctx context.Context, op, instanceID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "spend."+op,
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
		),
	)
}

// StartAdmissionSpan starts a span for a capacity decision.
func StartAdmissionSpan(ctx context.Context, typeID, project string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "scheduler.find_available",
		trace.WithAttributes(
			attribute.String("persona.type_id", typeID),
			attribute.String("persona.project", project),
		),
	)
}
