package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/ratelimit"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

// maxReserveAttempts bounds the secondary window-by-window search inside
// ScheduleEmailJob.
const maxReserveAttempts = 100

// ScheduleRequest describes one job to create.
type ScheduleRequest struct {
	Lead       *domain.Lead
	Type       string
	Category   domain.MailCategory
	TemplateID string
	Condition  *domain.StepCondition
	At         time.Time
	RetryCount int
	Metadata   domain.JobMetadata

	// SkipDuplicateCheck is set by retry/reschedule paths that knowingly
	// create a successor for an existing job.
	SkipDuplicateCheck bool
}

// ScheduleEmailJob reserves a slot and creates the job row, then reconciles
// the schedule projection and lead status. Returns the created job, or nil
// when a guard short-circuited.
func (e *Engine) ScheduleEmailJob(ctx context.Context, req ScheduleRequest) (*domain.Job, error) {
	lead := req.Lead
	if lead.IsTerminal() {
		logger.Debug("job creation blocked", "lead_id", lead.ID, "guard", "terminal")
		return nil, nil
	}

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	if !req.SkipDuplicateCheck {
		nonCancelled := rulebook.StatusStrings(e.rules.ExistingNonCancelledStatuses())
		dup, err := e.jobs.ExistsForType(ctx, lead.ID, req.Type, nonCancelled)
		if err != nil {
			return nil, err
		}
		if dup {
			logger.Debug("job creation blocked", "lead_id", lead.ID, "guard", "duplicate_type", "type", req.Type)
			return nil, nil
		}
		active, err := e.jobs.ListForLeadByStatus(ctx, lead.ID, rulebook.StatusStrings(e.rules.ActiveStatuses()))
		if err != nil {
			return nil, err
		}
		if len(active) > 0 && req.Category != domain.CategoryConditional {
			logger.Debug("job creation blocked", "lead_id", lead.ID, "guard", "active_job", "blocking", active[0].Type)
			return nil, nil
		}
	}

	// Secondary search: the FCFS probe saw capacity, but reservation is
	// the authoritative check; walk forward window by window.
	at := req.At
	reserved := false
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		local := schedule.InLeadTime(at, lead.Timezone)
		if !schedule.IsWorkingDay(local, settings) ||
			local.Hour() < settings.BusinessHours.StartHour ||
			local.Hour() >= settings.BusinessHours.EndHour {
			next, err := e.FindNextSlot(ctx, lead.Timezone, at, settings)
			if err != nil {
				return nil, err
			}
			at = next
		}
		err := e.limiter.ReserveSlot(ctx, at, settings)
		if err == nil {
			reserved = true
			break
		}
		var full *ratelimit.WindowFullError
		if errors.As(err, &full) {
			at = full.NextWindow
			continue
		}
		return nil, err
	}
	if !reserved {
		return nil, e.noteSlotFailure(ctx, lead, req.Type, ErrNoSlot)
	}

	meta := req.Metadata
	meta.Timezone = lead.Timezone
	job := &domain.Job{
		ID:             uuid.New().String(),
		LeadID:         lead.ID,
		Type:           req.Type,
		Category:       req.Category,
		Status:         domain.JobPending,
		ScheduledFor:   at,
		RetryCount:     req.RetryCount,
		TemplateID:     nullable(req.TemplateID),
		Condition:      req.Condition,
		IdempotencyKey: uuid.New().String(),
		Metadata:       meta,
	}
	if _, err := e.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, postgres.ErrDuplicateJob) {
			// Race loss after reservation: return the slot instead of
			// waiting for the next recount to absorb the over-count.
			e.limiter.ReleaseSlot(ctx, at, settings)
			logger.Debug("job creation lost race", "lead_id", lead.ID, "type", req.Type)
			return nil, nil
		}
		return nil, err
	}

	e.logHistory(ctx, lead.ID, "email_scheduled", job.DisplayType(), job.ID,
		fmt.Sprintf("scheduled for %s", at.Format(time.RFC3339)))
	if err := e.reconcileAndResolve(ctx, lead.ID, "job scheduled"); err != nil {
		return job, err
	}
	logger.Info("email scheduled",
		"lead_id", lead.ID, "job_id", job.ID, "type", job.DisplayType(),
		"scheduled_for", at.Format(time.RFC3339))
	return job, nil
}

// RescheduleEmailJob creates a successor job for a soft failure or manual
// retry. The old job is marked rescheduled and points at its replacement;
// the successor inherits an incremented retry count.
func (e *Engine) RescheduleEmailJob(ctx context.Context, job *domain.Job, delay time.Duration) (*domain.Job, error) {
	lead, err := e.leads.Get(ctx, job.LeadID)
	if err != nil {
		return nil, err
	}
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	if delay <= 0 {
		delay = time.Duration(settings.Retry.SoftBounceDelayHours) * time.Hour
	}
	minTime := e.clock.Now().Add(delay)
	slot, err := e.FindNextSlot(ctx, lead.Timezone, minTime, settings)
	if err != nil {
		return nil, e.noteSlotFailure(ctx, lead, job.DisplayType(), err)
	}

	meta := domain.JobMetadata{
		OriginalJobID: job.ID,
		TriggerEvent:  job.Metadata.TriggerEvent,
		RuleID:        job.Metadata.RuleID,
		Priority:      job.Metadata.Priority,
		Rescheduled:   true,
	}
	successor, err := e.ScheduleEmailJob(ctx, ScheduleRequest{
		Lead:               lead,
		Type:               job.Type,
		Category:           job.Category,
		TemplateID:         deref(job.TemplateID),
		Condition:          job.Condition,
		At:                 slot,
		RetryCount:         job.RetryCount + 1,
		Metadata:           meta,
		SkipDuplicateCheck: true,
	})
	if err != nil || successor == nil {
		return successor, err
	}

	oldMeta := job.Metadata
	oldMeta.RescheduledTo = successor.ID
	if err := e.jobs.SetMetadata(ctx, job.ID, oldMeta); err != nil {
		return successor, err
	}
	if err := e.jobs.UpdateStatus(ctx, job.ID, domain.JobRescheduled, ""); err != nil {
		return successor, err
	}
	e.removeFromQueues(ctx, job)
	e.logHistory(ctx, lead.ID, "email_rescheduled", job.DisplayType(), successor.ID,
		fmt.Sprintf("retry %d at %s", successor.RetryCount, successor.ScheduledFor.Format(time.RFC3339)))
	return successor, e.reconcileAndResolve(ctx, lead.ID, "job rescheduled")
}

// MoveJobToNextWorkingDay relocates a pending job off a paused date. The
// old job is cancelled first so the duplicate guard cannot block the
// replacement; on failure its previous status is restored.
func (e *Engine) MoveJobToNextWorkingDay(ctx context.Context, job *domain.Job) error {
	return e.withLeadLock(ctx, job.LeadID, func(ctx context.Context) error {
		lead, err := e.leads.Get(ctx, job.LeadID)
		if err != nil {
			return err
		}
		settings, err := e.settings.Get(ctx)
		if err != nil {
			return err
		}

		prevStatus := job.Status
		if err := e.jobs.UpdateStatus(ctx, job.ID, domain.JobCancelled, "Date is paused"); err != nil {
			return err
		}
		e.removeFromQueues(ctx, job)

		local := schedule.InLeadTime(job.ScheduledFor, lead.Timezone)
		nextDay, err := schedule.NextWorkingDay(local, settings, settings.BusinessHours.StartHour)
		if err == nil {
			_, err = e.ScheduleEmailJob(ctx, ScheduleRequest{
				Lead:               lead,
				Type:               job.Type,
				Category:           job.Category,
				TemplateID:         deref(job.TemplateID),
				Condition:          job.Condition,
				At:                 nextDay.UTC(),
				RetryCount:         job.RetryCount,
				Metadata:           job.Metadata,
				SkipDuplicateCheck: true,
			})
		}
		if err != nil {
			// Put the old job back rather than leaving the lead with
			// nothing scheduled.
			if restoreErr := e.jobs.UpdateStatus(ctx, job.ID, prevStatus, ""); restoreErr != nil {
				return fmt.Errorf("restore after failed move: %v (move error: %w)", restoreErr, err)
			}
			return err
		}
		return nil
	})
}

// ScheduleManualSlot creates a user-picked manual email at an explicit
// time, displacing lower-priority work.
func (e *Engine) ScheduleManualSlot(ctx context.Context, leadID string, at time.Time, templateID string) (*domain.Job, error) {
	var created *domain.Job
	err := e.withLeadLock(ctx, leadID, func(ctx context.Context) error {
		lead, err := e.leads.Get(ctx, leadID)
		if err != nil {
			return err
		}
		if at.Before(e.clock.Now()) {
			return fmt.Errorf("manual slot %s is in the past", at.Format(time.RFC3339))
		}

		if _, err := e.RequestSchedulePermission(ctx, leadID, "manual"); err != nil {
			return err
		}
		created, err = e.ScheduleEmailJob(ctx, ScheduleRequest{
			Lead:       lead,
			Type:       "manual",
			Category:   domain.CategoryManual,
			TemplateID: templateID,
			At:         at,
			Metadata: domain.JobMetadata{
				Manual:     true,
				ManualSlot: true,
				Priority:   e.rules.Priority(domain.CategoryManual),
			},
			SkipDuplicateCheck: true,
		})
		return err
	})
	return created, err
}

// removeFromQueues drops a job's send-queue entry, best-effort.
func (e *Engine) removeFromQueues(ctx context.Context, job *domain.Job) {
	if job.IdempotencyKey == "" || e.sendQueue == nil {
		return
	}
	if err := e.sendQueue.Remove(ctx, job.IdempotencyKey); err != nil {
		logger.Warn("queue removal failed", "job_id", job.ID, "error", err.Error())
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
