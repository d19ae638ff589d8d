package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httputil"
)

// CancelJob cancels one email job.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Reason == "" {
		body.Reason = "cancelled by user"
	}
	if err := h.engine.CancelJob(r.Context(), chi.URLParam(r, "id"), body.Reason, true); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.NoContent(w)
}

// SkipJob skips one job and advances the sequence past it.
func (h *Handlers) SkipJob(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SkipJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.NoContent(w)
}

// ResumeJob manually resumes a paused job. When a higher-priority job still
// blocks it, the response reports the blocker instead of failing.
func (h *Handlers) ResumeJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.ManualResumeJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, result)
}
