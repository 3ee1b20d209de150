// Package quality defines quality gates and the scoring rules that turn
// criterion scores into a gate verdict.
package quality

import (
	"fmt"
	"math"
	"time"
)

// State is the verdict of a quality gate evaluation.
type State string

const (
	StatePending  State = "Pending"
	StatePassed   State = "Passed"
	StateFailed   State = "Failed"
	StateBypassed State = "Bypassed"
)

// IsTerminal reports whether the state is a final verdict.
func (s State) IsTerminal() bool {
	return s == StatePassed || s == StateFailed || s == StateBypassed
}

const (
	minScore = 0
	maxScore = 100
)

// BypassNote is recorded on a gate status that was let through below threshold.
const BypassNote = "Gate bypassed with emergency approval"

// Gate is a named checkpoint with a numeric threshold.
type Gate struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Phase     string   `json:"phase" yaml:"phase"`
	Threshold int      `json:"threshold" yaml:"threshold"`
	CanBypass bool     `json:"canBypass" yaml:"can_bypass"`
	Criteria  []string `json:"criteria,omitempty" yaml:"criteria"`
}

// EvaluationContext carries everything needed to evaluate one gate.
type EvaluationContext struct {
	Gate            Gate
	CriteriaResults map[string]float64
	AllowBypass     bool
	RequestedBy     string
}

// Status is the recorded outcome of a single gate evaluation.
type Status struct {
	GateID          string             `json:"gateId"`
	Phase           string             `json:"phase,omitempty"`
	State           State              `json:"state"`
	Score           int                `json:"score"`
	EvaluatedAt     time.Time          `json:"evaluatedAt"`
	CriteriaResults map[string]float64 `json:"criteriaResults"`
	BypassedBy      string             `json:"bypassedBy,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// CalculateScore clamps every criterion score into [0, 100] and returns the
// rounded arithmetic mean. An empty set scores 0.
func CalculateScore(criteriaResults map[string]float64) int {
	if len(criteriaResults) == 0 {
		return 0
	}
	var sum float64
	for _, v := range criteriaResults {
		sum += clamp(v)
	}
	return int(math.Round(sum / float64(len(criteriaResults))))
}

// Evaluate scores the criteria and decides the gate state. The score passes
// when it reaches the threshold; below it, the gate is bypassed only when the
// caller asks for it, the gate allows it and a requester is named.
func Evaluate(ec EvaluationContext, now time.Time) Status {
	score := CalculateScore(ec.CriteriaResults)
	st := Status{
		GateID:          ec.Gate.ID,
		Phase:           ec.Gate.Phase,
		Score:           score,
		EvaluatedAt:     now,
		CriteriaResults: copyResults(ec.CriteriaResults),
	}

	switch {
	case score >= ec.Gate.Threshold:
		st.State = StatePassed
	case ec.AllowBypass && ec.Gate.CanBypass && ec.RequestedBy != "":
		st.State = StateBypassed
		st.BypassedBy = ec.RequestedBy
		st.Notes = BypassNote
	default:
		st.State = StateFailed
		st.Notes = fmt.Sprintf("Threshold %d not met", ec.Gate.Threshold)
	}
	return st
}

// OverallScore is the rounded mean of all gate scores, unweighted. An empty
// list scores 0.
func OverallScore(statuses []Status) int {
	if len(statuses) == 0 {
		return 0
	}
	var sum float64
	for _, s := range statuses {
		sum += float64(s.Score)
	}
	return int(math.Round(sum / float64(len(statuses))))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return minScore
	}
	return math.Max(minScore, math.Min(maxScore, v))
}

func copyResults(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
