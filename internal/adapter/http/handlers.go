package http

import (
	"net/http"
	"strconv"

	"github.com/Strob0t/orchestrator/internal/domain/handoff"
	"github.com/Strob0t/orchestrator/internal/domain/workflow"
	"github.com/Strob0t/orchestrator/internal/port/broadcast"
	"github.com/Strob0t/orchestrator/internal/port/messagequeue"
	"github.com/Strob0t/orchestrator/internal/service"
)

const defaultMaxBodyBytes = 1 << 20 // 1 MB

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Workflows *service.WorkflowService
	Handoffs  *service.HandoffService
	Quality   *service.QualityService

	Hub            broadcast.Broadcaster // optional
	Queue          messagequeue.Queue    // optional
	StorageBackend string
	MaxBodyBytes   int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.MaxBodyBytes > 0 {
		return h.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

type healthStatus struct {
	Status      string `json:"status"`
	Storage     string `json:"storage"`
	Queue       string `json:"queue"`
	Connections int    `json:"wsConnections"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	st := healthStatus{Status: "ok", Storage: h.StorageBackend, Queue: "disabled"}
	if h.Queue != nil {
		st.Queue = "connected"
		if !h.Queue.IsConnected() {
			st.Queue = "disconnected"
			st.Status = "degraded"
		}
	}
	if h.Hub != nil {
		st.Connections = h.Hub.ConnectionCount()
	}
	writeJSON(w, http.StatusOK, st)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Workflows.List(r.Context()))
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[workflow.CreateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.ID, "id") {
		return
	}

	wf, err := h.Workflows.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.Workflows.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// UpdateAgent handles PATCH /api/v1/workflows/{id}/agents/{agentId}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	patch, ok := readJSON[workflow.AgentPatch](w, r, h.bodyLimit())
	if !ok {
		return
	}
	featureID, agentID := urlParam(r, "id"), urlParam(r, "agentId")

	if err := h.Workflows.UpdateAgentStatus(r.Context(), featureID, agentID, patch); err != nil {
		writeDomainError(w, r, err)
		return
	}
	wf, err := h.Workflows.Get(r.Context(), featureID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	agent, _ := wf.Agent(agentID)
	writeJSON(w, http.StatusOK, agent)
}

// ListHandoffs handles GET /api/v1/workflows/{id}/handoffs
//
// With ?active=true only pending handoffs are returned.
func (h *Handlers) ListHandoffs(w http.ResponseWriter, r *http.Request) {
	featureID := urlParam(r, "id")
	active, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	var records []handoff.Record
	if active {
		records = h.Handoffs.ListActive(featureID)
	} else {
		records = h.Handoffs.List(featureID)
	}
	writeJSON(w, http.StatusOK, records)
}

// CreateHandoff handles POST /api/v1/workflows/{id}/handoffs
//
// A handoff that fails validation is still recorded and returned with 201;
// its status is "failed" and validationErrors lists the broken rules. That
// includes an empty fromAgent or toAgent, which resolves to no agent.
func (h *Handlers) CreateHandoff(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[handoff.CreateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	req.FeatureID = urlParam(r, "id")

	rec, err := h.Handoffs.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CompleteHandoff handles POST /api/v1/workflows/{id}/handoffs/{handoffId}/complete
func (h *Handlers) CompleteHandoff(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[handoff.CompleteRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	req.FeatureID, req.HandoffID = urlParam(r, "id"), urlParam(r, "handoffId")

	rec, err := h.Handoffs.Complete(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// FailHandoff handles POST /api/v1/workflows/{id}/handoffs/{handoffId}/fail
func (h *Handlers) FailHandoff(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[handoff.FailRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.Reason, "reason") {
		return
	}
	req.FeatureID, req.HandoffID = urlParam(r, "id"), urlParam(r, "handoffId")

	rec, err := h.Handoffs.Fail(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListQualityGates handles GET /api/v1/quality-gates
func (h *Handlers) ListQualityGates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Quality.Gates())
}

// EvaluateQualityGate handles POST /api/v1/workflows/{id}/quality-gates/{gateId}/evaluate
func (h *Handlers) EvaluateQualityGate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.EvaluateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	req.FeatureID, req.GateID = urlParam(r, "id"), urlParam(r, "gateId")

	st, err := h.Quality.Evaluate(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetWorkflowQuality handles GET /api/v1/workflows/{id}/quality
func (h *Handlers) GetWorkflowQuality(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Quality.Overall(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
