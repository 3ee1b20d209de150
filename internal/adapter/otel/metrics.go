package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "orchestrator"

// Metrics holds all orchestrator metric instruments.
type Metrics struct {
	HandoffsCreated   metric.Int64Counter
	HandoffsCompleted metric.Int64Counter
	HandoffsFailed    metric.Int64Counter
	GateEvaluations   metric.Int64Counter
	GateScore         metric.Int64Histogram
	PersistFailures   metric.Int64Counter
	EventsDropped     metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates all metric instruments on the given provider.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.HandoffsCreated, err = meter.Int64Counter("orchestrator.handoffs.created",
		metric.WithDescription("Number of handoffs created, by resulting status"))
	if err != nil {
		return nil, err
	}

	m.HandoffsCompleted, err = meter.Int64Counter("orchestrator.handoffs.completed",
		metric.WithDescription("Number of handoffs completed"))
	if err != nil {
		return nil, err
	}

	m.HandoffsFailed, err = meter.Int64Counter("orchestrator.handoffs.failed",
		metric.WithDescription("Number of handoffs failed explicitly"))
	if err != nil {
		return nil, err
	}

	m.GateEvaluations, err = meter.Int64Counter("orchestrator.gates.evaluations",
		metric.WithDescription("Number of quality gate evaluations, by gate and state"))
	if err != nil {
		return nil, err
	}

	m.GateScore, err = meter.Int64Histogram("orchestrator.gates.score",
		metric.WithDescription("Quality gate scores"),
		metric.WithExplicitBucketBoundaries(50, 60, 70, 75, 80, 85, 90, 95, 100))
	if err != nil {
		return nil, err
	}

	m.PersistFailures, err = meter.Int64Counter("orchestrator.persist.failures",
		metric.WithDescription("Number of snapshot writes that failed"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("orchestrator.events.dropped",
		metric.WithDescription("Number of events not delivered to the message queue"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHandoffCreated counts a created handoff with its resulting status.
func (m *Metrics) RecordHandoffCreated(ctx context.Context, status string) {
	m.HandoffsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordGate counts a gate evaluation and records its score.
func (m *Metrics) RecordGate(ctx context.Context, gateID, state string, score int) {
	attrs := metric.WithAttributes(attribute.String("gate", gateID), attribute.String("state", state))
	m.GateEvaluations.Add(ctx, 1, attrs)
	m.GateScore.Record(ctx, int64(score), metric.WithAttributes(attribute.String("gate", gateID)))
}
