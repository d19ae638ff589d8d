package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router: webhook ingestion plus the admin API.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Provider webhooks, outside /api: providers do not send auth headers.
	r.Post("/webhooks/email", h.webhook.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/leads", func(r chi.Router) {
			r.Post("/import", h.ImportLeads)
			r.Get("/{id}", h.GetLead)
			r.Get("/{id}/schedule", h.GetLeadSchedule)
			r.Get("/{id}/jobs", h.ListLeadJobs)
			r.Get("/{id}/history", h.GetLeadHistory)
			r.Post("/{id}/freeze", h.FreezeLead)
			r.Post("/{id}/unfreeze", h.UnfreezeLead)
			r.Post("/{id}/convert", h.ConvertLead)
			r.Post("/{id}/resurrect", h.ResurrectLead)
			r.Post("/{id}/followups/pause", h.PauseFollowups)
			r.Post("/{id}/followups/resume", h.ResumeFollowups)
			r.Post("/{id}/manual-slot", h.ScheduleManualSlot)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/{id}/cancel", h.CancelJob)
			r.Post("/{id}/skip", h.SkipJob)
			r.Post("/{id}/resume", h.ResumeJob)
		})

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Get("/capacity", h.GetSlotCapacity)

		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)
	})

	return r
}
