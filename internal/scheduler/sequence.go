package scheduler

import (
	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// ConditionResult is the outcome of evaluating a step condition.
type ConditionResult string

const (
	// ResultAlways: the step carries no condition.
	ResultAlways ConditionResult = "always"
	// ResultMet: the condition is satisfied, schedule the step.
	ResultMet ConditionResult = "met"
	// ResultWaiting: the referenced step has not produced an answer yet.
	ResultWaiting ConditionResult = "waiting"
	// ResultFailed: the condition can never be satisfied; skip the step.
	ResultFailed ConditionResult = "failed"
)

// sequenceState is the batch-loaded view of a lead's jobs, built once per
// scheduling pass so the walk below never re-queries.
type sequenceState struct {
	completed map[string]bool             // types with a completed-history job
	pending   map[string]*domain.Job      // types with an active job
	statuses  map[string]domain.JobStatus // best-known status per type
	skipped   map[string]bool             // types with a skipped job row
}

// statusRank orders engagement depth so a later event never downgrades the
// per-type status in the batch view.
var statusRank = map[domain.JobStatus]int{
	domain.JobSent: 1, domain.JobDelivered: 2,
	domain.JobOpened: 3, domain.JobUniqueOpened: 3, domain.JobClicked: 4,
}

func (e *Engine) buildSequenceState(jobs []*domain.Job) *sequenceState {
	st := &sequenceState{
		completed: map[string]bool{},
		pending:   map[string]*domain.Job{},
		statuses:  map[string]domain.JobStatus{},
		skipped:   map[string]bool{},
	}
	for _, j := range jobs {
		if e.rules.IsActive(j.Status) {
			st.pending[j.Type] = j
		}
		if j.Status == domain.JobSkipped {
			st.skipped[j.Type] = true
		}
		for _, c := range e.rules.CompletedHistoryStatuses() {
			if j.Status == c {
				st.completed[j.Type] = true
				break
			}
		}
		prev, seen := st.statuses[j.Type]
		if !seen || statusRank[j.Status] > statusRank[prev] {
			st.statuses[j.Type] = j.Status
		}
	}
	return st
}

// checkStepName resolves which step a condition inspects. "previous" or
// empty resolves positionally; the initial email precedes the first
// followup.
func checkStepName(cond *domain.StepCondition, steps []domain.FollowupStep, idx int) string {
	if cond != nil && cond.CheckStep != "" && cond.CheckStep != "previous" {
		return cond.CheckStep
	}
	if idx == 0 {
		return domain.InitialEmailType
	}
	return steps[idx-1].Name
}

// EvaluateCondition applies the condition truth table against the observed
// status of the checked step.
func (e *Engine) EvaluateCondition(cond *domain.StepCondition, checkStatus domain.JobStatus, scheduled bool) ConditionResult {
	if cond.IsAlways() {
		return ResultAlways
	}
	if !scheduled {
		return ResultWaiting
	}

	opened := checkStatus == domain.JobOpened || checkStatus == domain.JobUniqueOpened
	clicked := checkStatus == domain.JobClicked
	reached := checkStatus == domain.JobSent || checkStatus == domain.JobDelivered
	failed := e.rules.IsFailure(checkStatus)

	switch cond.Type {
	case domain.ConditionIfOpened:
		switch {
		case opened || clicked:
			return ResultMet
		case reached:
			return ResultWaiting
		case failed && cond.SkipIfNotMet:
			return ResultFailed
		}
	case domain.ConditionIfClicked:
		switch {
		case clicked:
			return ResultMet
		case reached || opened:
			return ResultWaiting
		case failed && cond.SkipIfNotMet:
			return ResultFailed
		}
	case domain.ConditionIfNotOpened:
		switch {
		case opened || clicked:
			return ResultFailed
		case reached:
			return ResultMet
		}
	case domain.ConditionIfNotClicked:
		switch {
		case clicked:
			return ResultFailed
		case reached || opened:
			return ResultMet
		}
	}
	return ResultWaiting
}

// effectiveSequence is the enabled followups minus the lead's per-lead
// skips.
func effectiveSequence(s *domain.Settings, lead *domain.Lead) []domain.FollowupStep {
	var out []domain.FollowupStep
	for _, step := range s.EnabledFollowups() {
		if lead.HasSkipped(step.Name) {
			continue
		}
		out = append(out, step)
	}
	return out
}
