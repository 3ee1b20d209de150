package quality

// Phase names used by the built-in gate catalogue.
const (
	PhaseRequirements   = "requirements"
	PhaseDesign         = "design"
	PhaseImplementation = "implementation"
	PhaseTesting        = "testing"
	PhaseDeployment     = "deployment"
)

// BuiltinGates returns one gate per workflow phase. Thresholds tighten as
// work moves towards deployment; the deployment gate cannot be bypassed.
func BuiltinGates() []Gate {
	return []Gate{
		{
			ID:        "requirements-review",
			Name:      "Requirements Review",
			Phase:     PhaseRequirements,
			Threshold: 70,
			CanBypass: true,
			Criteria:  []string{"completeness", "clarity", "acceptance_criteria"},
		},
		{
			ID:        "design-review",
			Name:      "Design Review",
			Phase:     PhaseDesign,
			Threshold: 75,
			CanBypass: true,
			Criteria:  []string{"architecture", "data_model", "api_contract"},
		},
		{
			ID:        "code-quality",
			Name:      "Code Quality",
			Phase:     PhaseImplementation,
			Threshold: 80,
			CanBypass: true,
			Criteria:  []string{"lint", "complexity", "review"},
		},
		{
			ID:        "test-coverage",
			Name:      "Test Coverage",
			Phase:     PhaseTesting,
			Threshold: 85,
			CanBypass: true,
			Criteria:  []string{"unit", "integration", "e2e"},
		},
		{
			ID:        "release-readiness",
			Name:      "Release Readiness",
			Phase:     PhaseDeployment,
			Threshold: 90,
			CanBypass: false,
			Criteria:  []string{"security", "performance", "rollback_plan"},
		},
	}
}

// FindGate returns the gate with the given id.
func FindGate(gates []Gate, id string) (Gate, bool) {
	for _, g := range gates {
		if g.ID == id {
			return g, true
		}
	}
	return Gate{}, false
}
