package scheduler

import (
	"context"
	"fmt"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

// CancelJob cancels one job after checking the rulebook permission matrix.
// isManual marks a user action in the history trail.
func (e *Engine) CancelJob(ctx context.Context, jobID, reason string, isManual bool) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if ok, why := e.rules.ValidateAction(rulebook.ActionCancel, job.Category, job.Status); !ok {
		return fmt.Errorf("cancel %s: %s", jobID, why)
	}
	return e.withLeadLock(ctx, job.LeadID, func(ctx context.Context) error {
		if err := e.jobs.UpdateStatus(ctx, jobID, domain.JobCancelled, reason); err != nil {
			return err
		}
		e.removeFromQueues(ctx, job)
		source := "system"
		if isManual {
			source = "user"
		}
		e.logHistory(ctx, job.LeadID, "job_cancelled", job.DisplayType(), jobID,
			fmt.Sprintf("%s: %s", source, reason))
		return e.reconcileAndResolve(ctx, job.LeadID, "job cancelled")
	})
}

// SkipJob marks a followup as skipped so the sequence moves past it, then
// immediately tries to schedule the next step.
func (e *Engine) SkipJob(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if ok, why := e.rules.ValidateAction(rulebook.ActionSkip, job.Category, job.Status); !ok {
		return fmt.Errorf("skip %s: %s", jobID, why)
	}
	err = e.withLeadLock(ctx, job.LeadID, func(ctx context.Context) error {
		if err := e.jobs.UpdateStatus(ctx, jobID, domain.JobSkipped, ""); err != nil {
			return err
		}
		e.removeFromQueues(ctx, job)
		e.logHistory(ctx, job.LeadID, "job_skipped", job.DisplayType(), jobID, "user skip")
		return e.reconcileAndResolve(ctx, job.LeadID, "job skipped")
	})
	if err != nil {
		return err
	}
	return e.ScheduleNextEmail(ctx, job.LeadID)
}

// PauseFollowups pauses every active followup for the lead on user request.
func (e *Engine) PauseFollowups(ctx context.Context, leadID string) error {
	return e.withLeadLock(ctx, leadID, func(ctx context.Context) error {
		lead, err := e.leads.Get(ctx, leadID)
		if err != nil {
			return err
		}
		if err := e.pausePendingFollowups(ctx, lead, "user"); err != nil {
			return err
		}
		return e.reconcileAndResolve(ctx, leadID, "followups paused")
	})
}

// ResumeFollowups lifts a followup pause and wakes the paused jobs.
func (e *Engine) ResumeFollowups(ctx context.Context, leadID string) error {
	err := e.withLeadLock(ctx, leadID, func(ctx context.Context) error {
		if err := e.leads.SetFollowupsPaused(ctx, leadID, false); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.ResumePausedJobs(ctx, leadID, "user"); err != nil {
		return err
	}
	return e.ScheduleNextEmail(ctx, leadID)
}

// CancelAllActive cancels every active job for a lead except the named one.
// Terminal transitions (unsubscribe, complaint, dead) ride on this.
func (e *Engine) CancelAllActive(ctx context.Context, leadID, exceptJobID, reason string) error {
	ids, err := e.jobs.CancelActive(ctx, leadID, exceptJobID, reason,
		rulebook.StatusStrings(e.rules.ActiveStatuses()))
	if err != nil {
		return err
	}
	// Paused jobs are not active, but a closed lead must not keep them
	// resumable either.
	paused, err := e.jobs.ListForLeadByStatus(ctx, leadID, []string{string(domain.JobPaused)})
	if err != nil {
		return err
	}
	for _, j := range paused {
		if j.ID == exceptJobID {
			continue
		}
		if err := e.jobs.UpdateStatus(ctx, j.ID, domain.JobCancelled, reason); err != nil {
			return err
		}
		ids = append(ids, j.ID)
	}
	for _, id := range ids {
		if job, err := e.jobs.Get(ctx, id); err == nil {
			e.removeFromQueues(ctx, job)
		}
	}
	if len(ids) > 0 {
		logger.Info("cancelled active jobs", "lead_id", leadID, "count", len(ids), "reason", reason)
	}
	return nil
}

// MarkLeadDead is the shared dead path: terminal state, cancel everything,
// notify.
func (e *Engine) MarkLeadDead(ctx context.Context, leadID, reason string) error {
	if err := e.leads.SetTerminal(ctx, leadID, domain.TerminalDead, reason); err != nil {
		return err
	}
	if err := e.CancelAllActive(ctx, leadID, "", "lead marked dead: "+reason); err != nil {
		return err
	}
	if err := e.notifications.Add(ctx, leadID, domain.NotifyLeadDead,
		"lead marked dead: "+reason); err != nil {
		return err
	}
	e.logHistory(ctx, leadID, "lead_dead", "", "", reason)
	return e.reconcileAndResolve(ctx, leadID, "lead dead")
}
