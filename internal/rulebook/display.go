package rulebook

import (
	"fmt"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// RuleLookup resolves a conditional rule by name when a conditional job's
// metadata is missing its trigger event. Returning nil means unknown.
type RuleLookup func(name string) *domain.ConditionalEmail

// FormatJobStatus renders the canonical display string for a job:
//
//	conditional: "condition {triggerEvent}:{status}"
//	followup:    "{step name}:{status}"  (the specific name, not "followup")
//	initial/manual: "{display name}:{status}"
//
// The visible status substitutes "scheduled" for stored pending/queued and
// keeps "rescheduled" visible even though the row is stored pending.
func FormatJobStatus(job *domain.Job, visible domain.JobStatus, lookup RuleLookup) string {
	switch job.Category {
	case domain.CategoryConditional:
		trigger := job.Metadata.TriggerEvent
		if trigger == "" && lookup != nil {
			if rule := lookup(job.Type); rule != nil {
				trigger = string(rule.TriggerEvent)
			}
		}
		if trigger == "" {
			trigger = "event"
		}
		return fmt.Sprintf("condition %s:%s", trigger, visible)
	case domain.CategoryInitial:
		return fmt.Sprintf("%s:%s", domain.InitialEmailType, visible)
	case domain.CategoryManual:
		return fmt.Sprintf("manual:%s", visible)
	default:
		return fmt.Sprintf("%s:%s", job.Type, visible)
	}
}

// VisibleScheduledStatus maps a stored active status to the value exposed
// in the lead status string.
func VisibleScheduledStatus(job *domain.Job) domain.JobStatus {
	if job.Status == domain.JobRescheduled || job.Metadata.Rescheduled {
		return domain.JobRescheduled
	}
	return domain.JobScheduled
}

// ForbiddenLeadStatuses are engagement and transitional values that must
// never be written to lead.status; the resolver asserts against them.
func ForbiddenLeadStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobOpened, domain.JobUniqueOpened, domain.JobClicked,
		domain.JobDelivered, domain.JobPaused, domain.JobCancelled, domain.JobSkipped,
	}
}
