package rulebook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

func TestPriorityOrdering(t *testing.T) {
	r := New()

	assert.Equal(t, 100, r.Priority(domain.CategoryConditional))
	assert.Equal(t, 90, r.Priority(domain.CategoryManual))
	assert.Equal(t, 80, r.Priority(domain.CategoryInitial))
	assert.Equal(t, 70, r.Priority(domain.CategoryFollowup))
}

func TestResolveMailType(t *testing.T) {
	r := New()

	cases := []struct {
		typeStr string
		want    domain.MailCategory
	}{
		{"Initial Email", domain.CategoryInitial},
		{"initial", domain.CategoryInitial},
		{"conditional:opened-case-study", domain.CategoryConditional},
		{"manual", domain.CategoryManual},
		{"Follow-Up 2", domain.CategoryFollowup},
		{"Case Study", domain.CategoryFollowup}, // unrecognized names default to followup
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.ResolveMailType(tc.typeStr).Category, "type %q", tc.typeStr)
	}
}

func TestValidateAction(t *testing.T) {
	r := New()

	cases := []struct {
		name     string
		action   Action
		category domain.MailCategory
		status   domain.JobStatus
		allowed  bool
	}{
		{"skip followup pending", ActionSkip, domain.CategoryFollowup, domain.JobPending, true},
		{"skip followup paused", ActionSkip, domain.CategoryFollowup, domain.JobPaused, true},
		{"skip initial forbidden", ActionSkip, domain.CategoryInitial, domain.JobPending, false},
		{"skip sent forbidden", ActionSkip, domain.CategoryFollowup, domain.JobSent, false},
		{"cancel initial pending", ActionCancel, domain.CategoryInitial, domain.JobPending, true},
		{"cancel terminal forbidden", ActionCancel, domain.CategoryInitial, domain.JobCancelled, false},
		{"pause followup", ActionPause, domain.CategoryFollowup, domain.JobPending, true},
		{"pause manual forbidden", ActionPause, domain.CategoryManual, domain.JobPending, false},
		{"resume paused", ActionResume, domain.CategoryFollowup, domain.JobPaused, true},
		{"resume pending forbidden", ActionResume, domain.CategoryFollowup, domain.JobPending, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := r.ValidateAction(tc.action, tc.category, tc.status)
			assert.Equal(t, tc.allowed, ok)
			if !tc.allowed {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	r := New()

	assert.True(t, r.CanTransition(domain.JobPending, domain.JobQueued))
	assert.True(t, r.CanTransition(domain.JobQueued, domain.JobSent))
	assert.True(t, r.CanTransition(domain.JobSent, domain.JobDelivered))
	assert.True(t, r.CanTransition(domain.JobPaused, domain.JobPending))

	// Idempotent replays keep the same status.
	assert.True(t, r.CanTransition(domain.JobSent, domain.JobSent))

	assert.False(t, r.CanTransition(domain.JobCancelled, domain.JobPending))
	assert.False(t, r.CanTransition(domain.JobHardBounce, domain.JobPending))
	assert.False(t, r.CanTransition(domain.JobSent, domain.JobQueued))
}

func TestEventCategoryFor(t *testing.T) {
	r := New()

	opened := r.EventCategoryFor(domain.EventOpened)
	assert.Equal(t, KindSuccess, opened.Kind)
	assert.Equal(t, domain.JobOpened, opened.JobStatus)
	assert.Equal(t, 5, opened.ScoreAdjust)

	soft := r.EventCategoryFor(domain.EventSoftBounce)
	assert.Equal(t, KindAutoReschedule, soft.Kind)

	unsub := r.EventCategoryFor(domain.EventUnsubscribed)
	assert.Equal(t, KindSpam, unsub.Kind)

	unknown := r.EventCategoryFor(domain.EventType("list_addition"))
	assert.Equal(t, KindUnknown, unknown.Kind)
}

func TestCalculateRetryDelay(t *testing.T) {
	r := New()

	assert.Equal(t, 30*time.Minute, r.CalculateRetryDelay(0))
	assert.Equal(t, time.Hour, r.CalculateRetryDelay(1))
	assert.Equal(t, 2*time.Hour, r.CalculateRetryDelay(2))
	// Capped at the policy maximum no matter how many retries.
	assert.Equal(t, 24*time.Hour, r.CalculateRetryDelay(10))
}

func TestShouldMarkAsDead(t *testing.T) {
	r := New()
	settings := domain.DefaultSettings() // max 3 attempts

	job := &domain.Job{Type: "Initial Email", RetryCount: 2}
	assert.False(t, r.ShouldMarkAsDead(job, domain.EventSoftBounce, settings))

	job.RetryCount = 3
	assert.True(t, r.ShouldMarkAsDead(job, domain.EventSoftBounce, settings))
	assert.True(t, r.ShouldMarkAsDead(job, domain.EventHardBounce, settings))

	// Engagement events never kill a lead.
	assert.False(t, r.ShouldMarkAsDead(job, domain.EventOpened, settings))
}

func TestApplyOverrides(t *testing.T) {
	r := New()

	r.Apply(Overrides{
		Priorities: map[domain.MailCategory]int{domain.CategoryManual: 95},
	})
	assert.Equal(t, 95, r.Priority(domain.CategoryManual))
	// Untouched categories keep their defaults.
	assert.Equal(t, 100, r.Priority(domain.CategoryConditional))

	off := false
	r.Apply(Overrides{CancelPendingFollowupsIfConfigured: &off})
	assert.False(t, r.CancelPendingFollowupsConfigured())

	// A zero Overrides leaves everything in place.
	r.Apply(Overrides{})
	assert.Equal(t, 95, r.Priority(domain.CategoryManual))
	assert.False(t, r.CancelPendingFollowupsConfigured())
}
