package scheduler

import (
	"context"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

// triggerFor maps an engagement event to the rule trigger vocabulary.
// Events outside it never fire rules.
func triggerFor(ev domain.EventType) (domain.TriggerEvent, bool) {
	switch ev {
	case domain.EventOpened, domain.EventUniqueOpened:
		return domain.TriggerOpened, true
	case domain.EventClicked:
		return domain.TriggerClicked, true
	case domain.EventDelivered:
		return domain.TriggerDelivered, true
	case domain.EventSoftBounce, domain.EventHardBounce:
		return domain.TriggerBounced, true
	}
	return "", false
}

// EvaluateTriggers fires conditional rules matching an engagement event on
// a source email. For each matching rule it schedules a side-sequence job,
// optionally pausing pending followups to make room.
func (e *Engine) EvaluateTriggers(ctx context.Context, leadID string, ev domain.EventType, sourceEmailType, sourceJobID string) error {
	trigger, ok := triggerFor(ev)
	if !ok {
		return nil
	}

	// The rule dedup below is a read-then-create pair, so it only holds
	// under the lead lock.
	return e.withLeadLock(ctx, leadID, func(ctx context.Context) error {
		lead, err := e.leads.Get(ctx, leadID)
		if err != nil {
			return err
		}
		if lead.IsTerminal() {
			logger.Debug("trigger evaluation blocked", "lead_id", leadID, "guard", "terminal")
			return nil
		}

		rules, err := e.conditionals.ListEnabledByTrigger(ctx, trigger, sourceEmailType)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return nil
		}

		for _, rule := range rules {
			if err := e.fireRule(ctx, lead, rule, trigger, sourceJobID); err != nil {
				logger.Error("conditional rule failed",
					"lead_id", leadID, "rule", rule.Name, "error", err.Error())
			}
		}
		return nil
	})
}

func (e *Engine) fireRule(ctx context.Context, lead *domain.Lead, rule *domain.ConditionalEmail, trigger domain.TriggerEvent, sourceJobID string) error {
	// One firing per rule per lead: any live or completed job for this
	// rule means the trigger already ran.
	nonCancelled := rulebook.StatusStrings(e.rules.ExistingNonCancelledStatuses())
	exists, err := e.jobs.ExistsForType(ctx, lead.ID, rule.Name, nonCancelled)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug("conditional rule deduplicated", "lead_id", lead.ID, "rule", rule.Name)
		return nil
	}

	settings, err := e.settings.Get(ctx)
	if err != nil {
		return err
	}

	if rule.CancelPending && e.rules.CancelPendingFollowupsConfigured() {
		if err := e.pausePendingFollowups(ctx, lead, "conditional:"+rule.Name); err != nil {
			return err
		}
	}

	minTime := e.clock.Now().Add(rule.Delay())
	slot, err := e.FindNextSlot(ctx, lead.Timezone, minTime, settings)
	if err != nil {
		return e.noteSlotFailure(ctx, lead, "conditional:"+rule.Name, err)
	}

	job, err := e.ScheduleEmailJob(ctx, ScheduleRequest{
		Lead:       lead,
		Type:       rule.Name,
		Category:   domain.CategoryConditional,
		TemplateID: rule.TemplateID,
		At:         slot,
		Metadata: domain.JobMetadata{
			TriggerEvent:  string(trigger),
			RuleID:        rule.ID,
			Priority:      rule.Priority,
			OriginalJobID: sourceJobID,
		},
		// The conditional branch is allowed next to paused followups;
		// the rule dedup above already ran.
		SkipDuplicateCheck: true,
	})
	if err != nil || job == nil {
		return err
	}

	logger.Info("conditional email scheduled",
		"lead_id", lead.ID, "rule", rule.Name, "trigger", string(trigger),
		"scheduled_for", job.ScheduledFor.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

// pausePendingFollowups moves the lead's pending followups aside for a
// conditional email. The stored reason is priority_paused so the delivered
// handler knows these resume automatically.
func (e *Engine) pausePendingFollowups(ctx context.Context, lead *domain.Lead, byType string) error {
	active, err := e.jobs.ListForLeadByStatus(ctx, lead.ID,
		rulebook.StatusStrings(e.rules.ActiveStatuses()))
	if err != nil {
		return err
	}
	var ids []string
	var jobs []*domain.Job
	for _, j := range active {
		if j.Category == domain.CategoryFollowup {
			ids = append(ids, j.ID)
			jobs = append(jobs, j)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := e.jobs.Pause(ctx, ids, "priority_paused", byType); err != nil {
		return err
	}
	for _, j := range jobs {
		e.removeFromQueues(ctx, j)
	}
	if err := e.leads.SetFollowupsPaused(ctx, lead.ID, true); err != nil {
		return err
	}
	logger.Info("followups paused for conditional",
		"lead_id", lead.ID, "by", byType, "count", len(ids))
	return nil
}
