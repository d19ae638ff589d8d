package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

// resumePlaceholderDelay is used when a paused job's original time has
// already passed by the time it resumes.
const resumePlaceholderDelay = 30 * time.Minute

// RequestSchedulePermission makes room for a higher-priority email: every
// active job with strictly lower priority is paused (never cancelled) and
// its queue entries removed. Returns the paused job ids.
func (e *Engine) RequestSchedulePermission(ctx context.Context, leadID, schedulingType string) ([]string, error) {
	incoming := e.rules.ResolveMailType(schedulingType)

	active, err := e.jobs.ListForLeadByStatus(ctx, leadID,
		rulebook.StatusStrings(e.rules.ActiveStatuses()))
	if err != nil {
		return nil, err
	}

	var toPause []string
	var pausedJobs []*domain.Job
	for _, j := range active {
		if e.rules.Priority(j.Category) < incoming.Priority {
			toPause = append(toPause, j.ID)
			pausedJobs = append(pausedJobs, j)
		}
	}
	if len(toPause) == 0 {
		return nil, nil
	}

	reason := fmt.Sprintf("Higher priority %s scheduled", schedulingType)
	if err := e.jobs.Pause(ctx, toPause, reason, schedulingType); err != nil {
		return nil, err
	}
	for _, j := range pausedJobs {
		e.removeFromQueues(ctx, j)
		e.logHistory(ctx, leadID, "job_paused", j.DisplayType(), j.ID, reason)
	}
	logger.Info("paused lower priority jobs",
		"lead_id", leadID, "scheduling_type", schedulingType, "count", len(toPause))
	return toPause, nil
}

// ResumePausedJobs wakes jobs displaced by completedType. Each resumes only
// if nothing active outranks it; a stale scheduled time becomes a short
// placeholder from now.
func (e *Engine) ResumePausedJobs(ctx context.Context, leadID, completedType string) error {
	lead, err := e.leads.Get(ctx, leadID)
	if err != nil {
		return err
	}
	if lead.IsTerminal() {
		logger.Debug("resume blocked", "lead_id", leadID, "guard", "terminal")
		return nil
	}

	paused, err := e.jobs.ListPausedBy(ctx, leadID, completedType)
	if err != nil {
		return err
	}
	if len(paused) == 0 {
		return nil
	}

	resumedAny := false
	for _, j := range paused {
		if blocked, _, err := e.higherPriorityActive(ctx, leadID, j); err != nil {
			return err
		} else if blocked {
			continue
		}
		at := j.ScheduledFor
		if at.Before(e.clock.Now()) {
			at = e.clock.Now().Add(resumePlaceholderDelay)
		}
		ok, err := e.jobs.Resume(ctx, j.ID, at)
		if err != nil {
			return err
		}
		if ok {
			resumedAny = true
			e.logHistory(ctx, leadID, "job_resumed", j.DisplayType(), j.ID,
				"resumed after "+completedType)
		}
	}
	if resumedAny {
		return e.reconcileAndResolve(ctx, leadID, "jobs resumed")
	}
	return nil
}

// ResumeResult is the outcome of a user-initiated resume.
type ResumeResult struct {
	Success   bool       `json:"success"`
	BlockedBy *BlockedBy `json:"blocked_by,omitempty"`
}

// BlockedBy names the active job that outranks the one being resumed.
type BlockedBy struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// ManualResumeJob resumes one paused job on user request. Unlike retry it
// never touches the retry counter. A higher-priority active job blocks the
// resume and is reported back.
func (e *Engine) ManualResumeJob(ctx context.Context, jobID string) (*ResumeResult, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ok, reason := e.rules.ValidateAction(rulebook.ActionResume, job.Category, job.Status); !ok {
		return nil, fmt.Errorf("resume %s: %s", jobID, reason)
	}

	var result *ResumeResult
	err = e.withLeadLock(ctx, job.LeadID, func(ctx context.Context) error {
		lead, err := e.leads.Get(ctx, job.LeadID)
		if err != nil {
			return err
		}
		if lead.IsTerminal() {
			return fmt.Errorf("lead %s is in terminal state %s", lead.ID, lead.TerminalState)
		}

		blocked, blocker, err := e.higherPriorityActive(ctx, job.LeadID, job)
		if err != nil {
			return err
		}
		if blocked {
			result = &ResumeResult{
				Success:   false,
				BlockedBy: &BlockedBy{Type: blocker.DisplayType(), JobID: blocker.ID},
			}
			return nil
		}

		at := job.ScheduledFor
		if at.Before(e.clock.Now()) {
			at = e.clock.Now().Add(resumePlaceholderDelay)
		}
		ok, err := e.jobs.Resume(ctx, job.ID, at)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("job %s is no longer paused", jobID)
		}
		result = &ResumeResult{Success: true}
		e.logHistory(ctx, job.LeadID, "job_resumed", job.DisplayType(), job.ID, "manual resume")
		return e.reconcileAndResolve(ctx, job.LeadID, "manual resume")
	})
	return result, err
}

// higherPriorityActive reports whether any active job strictly outranks the
// given one, returning the highest such blocker.
func (e *Engine) higherPriorityActive(ctx context.Context, leadID string, job *domain.Job) (bool, *domain.Job, error) {
	active, err := e.jobs.ListForLeadByStatus(ctx, leadID,
		rulebook.StatusStrings(e.rules.ActiveStatuses()))
	if err != nil {
		return false, nil, err
	}
	own := e.rules.Priority(job.Category)
	var blocker *domain.Job
	for _, a := range active {
		if a.ID == job.ID {
			continue
		}
		if p := e.rules.Priority(a.Category); p > own {
			if blocker == nil || p > e.rules.Priority(blocker.Category) {
				blocker = a
			}
		}
	}
	return blocker != nil, blocker, nil
}
