package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

// ScheduleNextEmail works out the lead's next sequence email and schedules
// it. Guard failures are not errors: the function logs and returns nil so
// callers in event handlers never retry a deliberate no-op.
func (e *Engine) ScheduleNextEmail(ctx context.Context, leadID string) error {
	return e.withLeadLock(ctx, leadID, func(ctx context.Context) error {
		return e.scheduleNextLocked(ctx, leadID)
	})
}

func (e *Engine) scheduleNextLocked(ctx context.Context, leadID string) error {
	lead, err := e.leads.Get(ctx, leadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}
	if lead.Timezone == "" {
		lead.Timezone = schedule.DeriveTimezone(lead.Country, lead.City)
		if err := e.leads.SetTimezone(ctx, lead.ID, lead.Timezone); err != nil {
			return err
		}
	}

	if lead.IsTerminal() || lead.IsInFailure {
		logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "terminal_or_failure")
		return nil
	}
	for _, terminal := range e.rules.TerminalLeadEmailStatuses() {
		if lead.Status == string(terminal) {
			logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "terminal_status")
			return nil
		}
	}

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	jobs, err := e.jobs.ListForLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("batch-load jobs: %w", err)
	}
	state := e.buildSequenceState(jobs)

	for typ, j := range state.pending {
		if j.Category == domain.CategoryManual {
			logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "active_manual", "type", typ)
			return nil
		}
	}
	if lead.FollowupsPaused {
		logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "followups_paused")
		return nil
	}

	// The initial email is step zero of every sequence. Any job of the
	// initial category in a live or completed state counts as done.
	initialDone := false
	for _, j := range jobs {
		if j.Category != domain.CategoryInitial {
			continue
		}
		if j.Status != domain.JobCancelled && !e.rules.IsFailure(j.Status) {
			initialDone = true
			break
		}
	}
	if !initialDone {
		return e.scheduleInitial(ctx, lead, settings)
	}

	// Single-followup guard: one pending sequence step at a time.
	for _, j := range state.pending {
		if j.Category == domain.CategoryFollowup {
			logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "pending_followup", "type", j.Type)
			return nil
		}
	}

	steps := effectiveSequence(settings, lead)
	stepIdx := -1
	for i, step := range steps {
		if state.completed[step.Name] || state.skipped[step.Name] {
			continue
		}
		if _, pending := state.pending[step.Name]; pending {
			continue
		}

		checkStep := checkStepName(step.Condition, steps, i)
		checkStatus, scheduled := state.statuses[checkStep]
		result := e.EvaluateCondition(step.Condition, checkStatus, scheduled)

		switch result {
		case ResultAlways, ResultMet:
			stepIdx = i
		case ResultFailed:
			// The gate can never open; materialize the skip so the
			// sequence resolver sees the step as closed.
			if err := e.materializeSkip(ctx, lead, step); err != nil {
				return err
			}
			state.skipped[step.Name] = true
			continue
		case ResultWaiting:
			continue
		}
		break
	}
	if stepIdx < 0 {
		logger.Debug("scheduling skipped", "lead_id", leadID, "guard", "no_eligible_step")
		return e.reconcileAndResolve(ctx, leadID, "no eligible step")
	}
	step := steps[stepIdx]

	// A conditionally gated step outranks later unconditional ones: any
	// pending always-jobs for later steps would send out of order.
	if !step.Condition.IsAlways() {
		for _, later := range steps[stepIdx+1:] {
			j, ok := state.pending[later.Name]
			if !ok || !later.Condition.IsAlways() {
				continue
			}
			if err := e.jobs.UpdateStatus(ctx, j.ID, domain.JobCancelled, "superseded by earlier conditional step"); err != nil {
				return err
			}
			e.removeFromQueues(ctx, j)
		}
	}

	// Delays count from the last successful send; now is the fallback for
	// a fresh lead.
	baseTime := e.clock.Now()
	if latest := latestSentAt(jobs, e); latest != nil {
		baseTime = *latest
	}
	target := baseTime.AddDate(0, 0, step.DelayDays)
	if target.Before(e.clock.Now()) {
		target = e.clock.Now()
	}
	local := schedule.InLeadTime(target, lead.Timezone)
	if local.Hour() < settings.BusinessHours.StartHour {
		target = schedule.AtStartHour(local, settings).UTC()
	}

	slot, err := e.FindNextSlot(ctx, lead.Timezone, target, settings)
	if err != nil {
		return e.noteSlotFailure(ctx, lead, step.Name, err)
	}

	_, err = e.ScheduleEmailJob(ctx, ScheduleRequest{
		Lead:       lead,
		Type:       step.Name,
		Category:   domain.CategoryFollowup,
		TemplateID: step.TemplateID,
		Condition:  step.Condition,
		At:         slot,
	})
	return err
}

func latestSentAt(jobs []*domain.Job, e *Engine) *time.Time {
	var latest *time.Time
	for _, j := range jobs {
		if !e.rules.IsSuccessfullySent(j.Status) || j.SentAt == nil {
			continue
		}
		if latest == nil || j.SentAt.After(*latest) {
			latest = j.SentAt
		}
	}
	return latest
}

// scheduleInitial plans the first email of the sequence as soon as a slot
// allows.
func (e *Engine) scheduleInitial(ctx context.Context, lead *domain.Lead, settings *domain.Settings) error {
	slot, err := e.FindNextSlot(ctx, lead.Timezone, e.clock.Now(), settings)
	if err != nil {
		return e.noteSlotFailure(ctx, lead, domain.InitialEmailType, err)
	}
	_, err = e.ScheduleEmailJob(ctx, ScheduleRequest{
		Lead:     lead,
		Type:     domain.InitialEmailType,
		Category: domain.CategoryInitial,
		At:       slot,
	})
	return err
}

// materializeSkip records a failed-condition step as skipped so it never
// blocks sequence completion.
func (e *Engine) materializeSkip(ctx context.Context, lead *domain.Lead, step domain.FollowupStep) error {
	_, err := e.jobs.Create(ctx, &domain.Job{
		LeadID:       lead.ID,
		Type:         step.Name,
		Category:     domain.CategoryFollowup,
		Status:       domain.JobSkipped,
		ScheduledFor: e.clock.Now(),
		Condition:    step.Condition,
		LastError:    "condition not met",
	})
	if err != nil {
		return fmt.Errorf("materialize skip for %q: %w", step.Name, err)
	}
	e.logHistory(ctx, lead.ID, "step_skipped", step.Name, "", "condition not met")
	return nil
}

func (e *Engine) noteSlotFailure(ctx context.Context, lead *domain.Lead, emailType string, cause error) error {
	logger.Warn("no slot found", "lead_id", lead.ID, "type", emailType, "error", cause.Error())
	_ = e.notifications.Add(ctx, lead.ID, domain.NotifyRescheduleFail,
		fmt.Sprintf("could not find a slot for %s: %v", emailType, cause))
	return nil
}
