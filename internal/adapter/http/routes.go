package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/orchestrator/internal/middleware"
)

// MountRoutes registers the health check and all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"1"}`))
		})

		r.Get("/quality-gates", h.ListQualityGates)

		r.Get("/workflows", h.ListWorkflows)
		r.Post("/workflows", h.CreateWorkflow)

		r.Route("/workflows/{id}", func(r chi.Router) {
			r.Use(middleware.FeatureScope("id"))

			r.Get("/", h.GetWorkflow)
			r.Patch("/agents/{agentId}", h.UpdateAgent)

			// Handoffs
			r.Get("/handoffs", h.ListHandoffs)
			r.Post("/handoffs", h.CreateHandoff)
			r.Post("/handoffs/{handoffId}/complete", h.CompleteHandoff)
			r.Post("/handoffs/{handoffId}/fail", h.FailHandoff)

			// Quality gates
			r.Post("/quality-gates/{gateId}/evaluate", h.EvaluateQualityGate)
			r.Get("/quality", h.GetWorkflowQuality)
		})
	})
}
