package events

import (
	"context"
	"fmt"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
	"github.com/crewviateam/lead-flow-server-sub000/internal/scheduler"
)

// followupIdempotencyWindow suppresses a second scheduling pass when a
// delivered webhook arrives twice in quick succession.
const followupIdempotencyWindow = 120 * time.Second

// Handlers hold the event-side mutations. Every mutating handler runs under
// the per-lead lock; composite operations (reschedule, dead path, resume,
// trigger evaluation) go through the scheduler engine and reenter that lock.
type Handlers struct {
	engine        *scheduler.Engine
	rules         *rulebook.Rulebook
	leads         *postgres.LeadStore
	jobs          *postgres.JobStore
	settings      *postgres.SettingsStore
	notifications *postgres.NotificationStore
	clock         schedule.Clock
}

// NewHandlers wires the handler set.
func NewHandlers(
	engine *scheduler.Engine,
	rules *rulebook.Rulebook,
	leads *postgres.LeadStore,
	jobs *postgres.JobStore,
	settings *postgres.SettingsStore,
	notifications *postgres.NotificationStore,
	clock schedule.Clock,
) *Handlers {
	if clock == nil {
		clock = schedule.NewClock()
	}
	return &Handlers{
		engine:        engine,
		rules:         rules,
		leads:         leads,
		jobs:          jobs,
		settings:      settings,
		notifications: notifications,
		clock:         clock,
	}
}

// locked runs fn under the lead's scheduling lock so handler mutations
// serialize with the engine's own operations on the same key. Nested engine
// calls reenter the held lock instead of yielding.
func (h *Handlers) locked(ctx context.Context, leadID string, fn func(context.Context) error) error {
	if leadID == "" {
		return fn(ctx)
	}
	return h.engine.WithLeadLock(ctx, leadID, fn)
}

// loadJob fetches the event's job when it names one. A missing job is a
// stale or foreign event and ends handling without error.
func (h *Handlers) loadJob(ctx context.Context, ev domain.Event) (*domain.Job, error) {
	if ev.EmailJobID == "" {
		return nil, nil
	}
	job, err := h.jobs.Get(ctx, ev.EmailJobID)
	if err == postgres.ErrNotFound {
		logger.Warn("event for unknown job", "event", string(ev.Type), "job_id", ev.EmailJobID)
		return nil, nil
	}
	return job, err
}

// applyJobStatus transitions the job to the event's status if the state
// machine allows it. Illegal transitions are logged and skipped; replays
// (self-transitions) pass through.
func (h *Handlers) applyJobStatus(ctx context.Context, job *domain.Job, ev domain.Event) (bool, error) {
	target := h.rules.EventCategoryFor(ev.Type).JobStatus
	if target == "" {
		return false, nil
	}
	if !h.rules.CanTransition(job.Status, target) {
		logger.Warn("illegal job transition ignored",
			"job_id", job.ID, "from", string(job.Status), "to", string(target),
			"event", string(ev.Type))
		return false, nil
	}
	if err := h.jobs.UpdateStatus(ctx, job.ID, target, ev.Data.Reason); err != nil {
		return false, err
	}
	job.Status = target
	return true, nil
}

func (h *Handlers) adjustScore(ctx context.Context, leadID string, ev domain.EventType) {
	if delta := h.rules.EventCategoryFor(ev).ScoreAdjust; delta != 0 {
		if err := h.leads.AdjustScore(ctx, leadID, delta); err != nil {
			logger.Warn("score adjust failed", "lead_id", leadID, "error", err.Error())
		}
	}
}

// HandleSuccess covers sent, delivered, opened, unique_opened, clicked.
func (h *Handlers) HandleSuccess(ctx context.Context, ev domain.Event) error {
	return h.locked(ctx, ev.LeadID, func(ctx context.Context) error {
		return h.handleSuccess(ctx, ev)
	})
}

func (h *Handlers) handleSuccess(ctx context.Context, ev domain.Event) error {
	job, err := h.loadJob(ctx, ev)
	if err != nil || job == nil {
		return err
	}

	switch ev.Type {
	case domain.EventSent:
		if !h.rules.CanTransition(job.Status, domain.JobSent) {
			return nil
		}
		if err := h.jobs.MarkSent(ctx, job.ID, h.clock.Now()); err != nil {
			return err
		}
		if err := h.leads.IncrementCounter(ctx, ev.LeadID, postgres.CounterSent); err != nil {
			return err
		}
		return h.engine.SyncLead(ctx, ev.LeadID, "email sent")

	case domain.EventDelivered:
		if _, err := h.applyJobStatus(ctx, job, ev); err != nil {
			return err
		}
		return h.afterDelivered(ctx, ev, job)

	case domain.EventOpened, domain.EventUniqueOpened, domain.EventClicked:
		moved, err := h.applyJobStatus(ctx, job, ev)
		if err != nil {
			return err
		}
		if moved {
			counter := postgres.CounterOpened
			if ev.Type == domain.EventClicked {
				counter = postgres.CounterClicked
			}
			if err := h.leads.IncrementCounter(ctx, ev.LeadID, counter); err != nil {
				return err
			}
			h.adjustScore(ctx, ev.LeadID, ev.Type)
		}
		// Engagement can fire conditional side-sequences, but it never
		// cancels followups; the evaluator's pause step owns that.
		if err := h.engine.EvaluateTriggers(ctx, ev.LeadID, ev.Type, job.Type, job.ID); err != nil {
			return err
		}
		return h.engine.SyncLead(ctx, ev.LeadID, "engagement "+string(ev.Type))
	}
	return nil
}

// afterDelivered resumes followups displaced by a finished priority email,
// then schedules the next sequence step unless a very recent pass already
// did.
func (h *Handlers) afterDelivered(ctx context.Context, ev domain.Event, job *domain.Job) error {
	lead, err := h.leads.Get(ctx, ev.LeadID)
	if err != nil {
		return err
	}

	if (job.Category == domain.CategoryConditional || job.Category == domain.CategoryManual) &&
		lead.FollowupsPaused {
		if err := h.leads.SetFollowupsPaused(ctx, lead.ID, false); err != nil {
			return err
		}
		if err := h.engine.ResumePausedJobs(ctx, lead.ID, job.DisplayType()); err != nil {
			return err
		}
	}

	recent, err := h.jobs.CountRecentPending(ctx, lead.ID,
		[]string{string(domain.CategoryFollowup), string(domain.CategoryConditional)},
		h.clock.Now().Add(-followupIdempotencyWindow))
	if err != nil {
		return err
	}
	if recent > 0 {
		logger.Debug("followup scheduling suppressed", "lead_id", lead.ID, "recent_pending", recent)
		return h.engine.SyncLead(ctx, lead.ID, "delivered (suppressed)")
	}

	if err := h.engine.ScheduleNextEmail(ctx, lead.ID); err != nil {
		return err
	}
	return h.engine.SyncLead(ctx, lead.ID, "delivered")
}

// HandleAutoReschedule covers soft_bounce and deferred.
func (h *Handlers) HandleAutoReschedule(ctx context.Context, ev domain.Event) error {
	return h.locked(ctx, ev.LeadID, func(ctx context.Context) error {
		return h.handleAutoReschedule(ctx, ev)
	})
}

func (h *Handlers) handleAutoReschedule(ctx context.Context, ev domain.Event) error {
	job, err := h.loadJob(ctx, ev)
	if err != nil || job == nil {
		return err
	}
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return err
	}

	if err := h.leads.IncrementCounter(ctx, ev.LeadID, postgres.CounterBounced); err != nil {
		return err
	}
	h.adjustScore(ctx, ev.LeadID, ev.Type)

	if h.rules.ShouldMarkAsDead(job, ev.Type, settings) {
		if _, err := h.applyJobStatus(ctx, job, ev); err != nil {
			return err
		}
		return h.engine.MarkLeadDead(ctx, ev.LeadID,
			fmt.Sprintf("retry budget exhausted after %s on %s", ev.Type, job.DisplayType()))
	}

	delay := time.Duration(settings.Retry.SoftBounceDelayHours) * time.Hour
	if _, err := h.engine.RescheduleEmailJob(ctx, job, delay); err != nil {
		return err
	}
	// The concrete soft status is written after the reschedule so the old
	// row reads as a bounce in analytics, not as a live reschedule.
	target := h.rules.EventCategoryFor(ev.Type).JobStatus
	if err := h.jobs.UpdateStatus(ctx, job.ID, target, ev.Data.Reason); err != nil {
		return err
	}
	return h.engine.SyncLead(ctx, ev.LeadID, "auto reschedule "+string(ev.Type))
}

// HandleFailed covers hard_bounce, blocked, invalid, error.
func (h *Handlers) HandleFailed(ctx context.Context, ev domain.Event) error {
	return h.locked(ctx, ev.LeadID, func(ctx context.Context) error {
		return h.handleFailed(ctx, ev)
	})
}

func (h *Handlers) handleFailed(ctx context.Context, ev domain.Event) error {
	job, err := h.loadJob(ctx, ev)
	if err != nil || job == nil {
		return err
	}
	settings, err := h.settings.Get(ctx)
	if err != nil {
		return err
	}

	if _, err := h.applyJobStatus(ctx, job, ev); err != nil {
		return err
	}
	if err := h.leads.IncrementCounter(ctx, ev.LeadID, postgres.CounterBounced); err != nil {
		return err
	}
	h.adjustScore(ctx, ev.LeadID, ev.Type)

	if h.rules.ShouldMarkAsDead(job, ev.Type, settings) {
		return h.engine.MarkLeadDead(ctx, ev.LeadID,
			fmt.Sprintf("%s on %s", ev.Type, job.DisplayType()))
	}

	// The lead stays alive, but nothing else should go out until someone
	// looks at the failure.
	if err := h.leads.SetInFailure(ctx, ev.LeadID, true); err != nil {
		return err
	}
	active, err := h.jobs.ListForLeadByStatus(ctx, ev.LeadID,
		rulebook.StatusStrings(h.rules.ActiveStatuses()))
	if err != nil {
		return err
	}
	var ids []string
	for _, a := range active {
		if a.ID != job.ID {
			ids = append(ids, a.ID)
		}
	}
	reason := fmt.Sprintf("Paused due to %s on %s", ev.Type, job.DisplayType())
	if err := h.jobs.Pause(ctx, ids, reason, job.DisplayType()); err != nil {
		return err
	}
	if err := h.notifications.Add(ctx, ev.LeadID, domain.NotifyManualRetry,
		fmt.Sprintf("%s failed with %s; manual retry required", job.DisplayType(), ev.Type)); err != nil {
		return err
	}
	return h.engine.SyncLead(ctx, ev.LeadID, "failed "+string(ev.Type))
}

// HandleSpam covers spam, unsubscribed, complaint: compliance closures that
// end the lead's journey.
func (h *Handlers) HandleSpam(ctx context.Context, ev domain.Event) error {
	return h.locked(ctx, ev.LeadID, func(ctx context.Context) error {
		return h.handleSpam(ctx, ev)
	})
}

func (h *Handlers) handleSpam(ctx context.Context, ev domain.Event) error {
	job, err := h.loadJob(ctx, ev)
	if err != nil {
		return err
	}
	if job != nil {
		if _, err := h.applyJobStatus(ctx, job, ev); err != nil {
			return err
		}
	}
	h.adjustScore(ctx, ev.LeadID, ev.Type)

	var terminal domain.TerminalState
	var kind string
	switch ev.Type {
	case domain.EventUnsubscribed:
		terminal, kind = domain.TerminalUnsubscribed, domain.NotifyLeadUnsub
	default: // spam and complaint close the lead the same way
		terminal, kind = domain.TerminalComplaint, domain.NotifyLeadComplaint
	}
	if err := h.leads.SetTerminal(ctx, ev.LeadID, terminal, string(ev.Type)); err != nil {
		return err
	}

	exceptID := ""
	if job != nil {
		exceptID = job.ID
	}
	if err := h.engine.CancelAllActive(ctx, ev.LeadID, exceptID,
		"cancelled for compliance after "+string(ev.Type)); err != nil {
		return err
	}
	if err := h.notifications.Add(ctx, ev.LeadID, kind,
		fmt.Sprintf("lead closed after %s", ev.Type)); err != nil {
		return err
	}
	return h.engine.SyncLead(ctx, ev.LeadID, "compliance "+string(ev.Type))
}
