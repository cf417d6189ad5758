package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", h.ListEvents)
		r.Get("/status", h.GetStatus)
		r.Get("/liveness", h.GetLiveness)
		r.Get("/errors", h.GetErrors)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.DeleteTask)
		r.Post("/tasks/{id}/dispatch", h.DispatchTask)
		r.Post("/tasks/{id}/abort", h.AbortTask)

		r.Post("/sync/run", h.RunSync)
		r.Post("/sync/reset-backoff", h.ResetBackoff)
	})
}
