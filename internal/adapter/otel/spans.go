package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "orchestrator"

// StartHandoffSpan starts a span for a handoff operation (create, complete, fail).
func StartHandoffSpan(ctx context.Context, op, featureID, handoffID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "handoff."+op,
		trace.WithAttributes(
			attribute.String("feature.id", featureID),
			attribute.String("handoff.id", handoffID),
		),
	)
}

// StartGateSpan starts a span for a quality gate evaluation.
func StartGateSpan(ctx context.Context, featureID, gateID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gate.evaluate",
		trace.WithAttributes(
			attribute.String("feature.id", featureID),
			attribute.String("gate.id", gateID),
		),
	)
}

// StartPersistSpan starts a span for a snapshot write.
func StartPersistSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "persist",
		trace.WithAttributes(attribute.String("persist.kind", kind)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AnnotateHandoff records the handoff id on a span started before the id existed.
func AnnotateHandoff(span trace.Span, handoffID string) {
	span.SetAttributes(attribute.String("handoff.id", handoffID))
}
