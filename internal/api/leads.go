package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httputil"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/service/lead"
)

// ImportLeads bulk-imports leads and schedules their initial emails.
func (h *Handlers) ImportLeads(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Leads []lead.ImportInput `json:"leads"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if len(body.Leads) == 0 {
		httputil.BadRequest(w, "no leads in request")
		return
	}
	result, err := h.leadSvc.Import(r.Context(), body.Leads)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, result)
}

// GetLead returns one lead.
func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.leadSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLeadError(w, err)
		return
	}
	httputil.OK(w, l)
}

// GetLeadSchedule returns the lead's schedule projection.
func (h *Handlers) GetLeadSchedule(w http.ResponseWriter, r *http.Request) {
	es, err := h.schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, postgres.ErrNotFound) {
		httputil.NotFound(w, "no schedule for lead")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, es)
}

// ListLeadJobs returns every email job for a lead, newest first.
func (h *Handlers) ListLeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListForLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"jobs": jobs})
}

// GetLeadHistory returns the lead's event history.
func (h *Handlers) GetLeadHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.ListForLead(r.Context(), chi.URLParam(r, "id"), 100)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"history": entries})
}

// FreezeLead suspends a lead until the given time.
func (h *Handlers) FreezeLead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Until time.Time `json:"until"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if err := h.leadSvc.Freeze(r.Context(), chi.URLParam(r, "id"), body.Until); err != nil {
		writeLeadError(w, err)
		return
	}
	httputil.NoContent(w)
}

// UnfreezeLead lifts a freeze and restarts the sequence.
func (h *Handlers) UnfreezeLead(w http.ResponseWriter, r *http.Request) {
	if err := h.leadSvc.Unfreeze(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLeadError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ConvertLead marks the lead won.
func (h *Handlers) ConvertLead(w http.ResponseWriter, r *http.Request) {
	if err := h.leadSvc.Convert(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLeadError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ResurrectLead reopens a dead lead.
func (h *Handlers) ResurrectLead(w http.ResponseWriter, r *http.Request) {
	if err := h.leadSvc.Resurrect(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeLeadError(w, err)
		return
	}
	httputil.NoContent(w)
}

// PauseFollowups pauses the lead's pending followups.
func (h *Handlers) PauseFollowups(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PauseFollowups(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ResumeFollowups resumes previously paused followups.
func (h *Handlers) ResumeFollowups(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResumeFollowups(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ScheduleManualSlot books a one-off manual email at an exact time.
func (h *Handlers) ScheduleManualSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		At         time.Time `json:"at"`
		TemplateID string    `json:"template_id"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	job, err := h.engine.ScheduleManualSlot(r.Context(), chi.URLParam(r, "id"), body.At, body.TemplateID)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, job)
}

func writeLeadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lead.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, lead.ErrTerminal),
		errors.Is(err, lead.ErrNotDead),
		errors.Is(err, lead.ErrInvalidFreeze),
		errors.Is(err, lead.ErrInvalidInput):
		httputil.Error(w, http.StatusConflict, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
