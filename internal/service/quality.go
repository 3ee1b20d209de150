package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cfotel "github.com/Strob0t/orchestrator/internal/adapter/otel"
	"github.com/Strob0t/orchestrator/internal/domain"
	"github.com/Strob0t/orchestrator/internal/domain/event"
	"github.com/Strob0t/orchestrator/internal/domain/quality"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
	"github.com/Strob0t/orchestrator/internal/port/eventbus"
)

// ErrGateNotFound is returned for gate ids missing from the catalogue.
var ErrGateNotFound = fmt.Errorf("quality gate %w", domain.ErrNotFound)

// gateRecorder is the part of the workflow registry that stores verdicts.
type gateRecorder interface {
	Get(ctx context.Context, featureID string) (*workflow.FeatureWorkflow, error)
	RecordGateStatus(ctx context.Context, featureID string, st quality.Status) error
}

// EvaluateRequest asks for a gate verdict on one workflow.
type EvaluateRequest struct {
	FeatureID       string             `json:"featureId"`
	GateID          string             `json:"gateId"`
	CriteriaResults map[string]float64 `json:"criteriaResults"`
	AllowBypass     bool               `json:"allowBypass,omitempty"`
	RequestedBy     string             `json:"requestedBy,omitempty"`
}

// QualityReport summarises the recorded gate verdicts of a workflow.
type QualityReport struct {
	FeatureID string           `json:"featureId"`
	Score     int              `json:"score"`
	Gates     []quality.Status `json:"gates"`
}

// QualityService evaluates quality gates from a fixed catalogue and records
// each verdict on its workflow.
type QualityService struct {
	gates    []quality.Gate
	registry gateRecorder
	bus      eventbus.Bus
	metrics  *cfotel.Metrics
	now      func() time.Time
}

// NewQualityService creates a QualityService over the given gate catalogue.
func NewQualityService(gates []quality.Gate, reg gateRecorder, bus eventbus.Bus) *QualityService {
	return &QualityService{
		gates:    append([]quality.Gate(nil), gates...),
		registry: reg,
		bus:      bus,
		now:      time.Now,
	}
}

// SetMetrics attaches metric instruments.
func (s *QualityService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Gates returns the gate catalogue.
func (s *QualityService) Gates() []quality.Gate {
	return append([]quality.Gate(nil), s.gates...)
}

// Evaluate scores the criteria against the gate, stores the verdict on the
// workflow and emits gate.evaluated.
func (s *QualityService) Evaluate(ctx context.Context, req EvaluateRequest) (quality.Status, error) {
	ctx, span := cfotel.StartGateSpan(ctx, req.FeatureID, req.GateID)
	var err error
	defer func() { cfotel.EndSpan(span, err) }()

	gate, ok := quality.FindGate(s.gates, req.GateID)
	if !ok {
		err = fmt.Errorf("%w: %s", ErrGateNotFound, req.GateID)
		return quality.Status{}, err
	}

	now := s.now()
	st := quality.Evaluate(quality.EvaluationContext{
		Gate:            gate,
		CriteriaResults: req.CriteriaResults,
		AllowBypass:     req.AllowBypass,
		RequestedBy:     req.RequestedBy,
	}, now)

	if err = s.registry.RecordGateStatus(ctx, req.FeatureID, st); err != nil {
		return quality.Status{}, err
	}

	s.bus.Emit(ctx, event.New(event.GateEvaluated{
		FeatureID: req.FeatureID,
		GateID:    st.GateID,
		State:     string(st.State),
		Score:     st.Score,
	}, now))
	if s.metrics != nil {
		s.metrics.RecordGate(ctx, st.GateID, string(st.State), st.Score)
	}
	slog.InfoContext(ctx, "quality gate evaluated",
		"feature_id", req.FeatureID,
		"gate_id", st.GateID,
		"state", st.State,
		"score", st.Score,
		"threshold", gate.Threshold,
	)
	return st, nil
}

// Overall returns the recorded verdicts of a workflow and their mean score.
func (s *QualityService) Overall(ctx context.Context, featureID string) (QualityReport, error) {
	wf, err := s.registry.Get(ctx, featureID)
	if err != nil {
		return QualityReport{}, err
	}
	gates := wf.QualityGates
	if gates == nil {
		gates = []quality.Status{}
	}
	return QualityReport{
		FeatureID: featureID,
		Score:     wf.OverallQuality(),
		Gates:     gates,
	}, nil
}
