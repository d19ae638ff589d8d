package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httputil"
)

// GetSettings returns the runtime-mutable engine settings.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, s)
}

// UpdateSettings replaces the engine settings.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s domain.Settings
	if !httputil.Decode(w, r, &s) {
		return
	}
	if s.BusinessHours.StartHour < 0 || s.BusinessHours.EndHour > 24 ||
		s.BusinessHours.StartHour >= s.BusinessHours.EndHour {
		httputil.BadRequest(w, "invalid business hours")
		return
	}
	if s.RateLimit.EmailsPerWindow <= 0 || s.RateLimit.WindowMinutes <= 0 {
		httputil.BadRequest(w, "invalid rate limit")
		return
	}
	if err := h.settings.Save(r.Context(), &s); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, &s)
}

// GetSlotCapacity probes window occupancy at a given time (default: now).
func (h *Handlers) GetSlotCapacity(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "at must be RFC3339")
			return
		}
		at = parsed.UTC()
	}
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	cap, err := h.limiter.GetSlotCapacity(r.Context(), at, settings)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, cap)
}

// ListNotifications returns unread notifications.
func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notifications.ListUnread(r.Context(), 50)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"notifications": notes})
}

// MarkNotificationRead marks one notification read.
func (h *Handlers) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.NotFound(w, "notification not found")
		return
	}
	httputil.NoContent(w)
}
