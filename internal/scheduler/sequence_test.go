package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

func testEngine() *Engine {
	return NewEngine(Deps{Rules: rulebook.New()})
}

func TestEvaluateConditionTruthTable(t *testing.T) {
	e := testEngine()

	cases := []struct {
		name      string
		cond      *domain.StepCondition
		status    domain.JobStatus
		scheduled bool
		want      ConditionResult
	}{
		{"nil condition", nil, "", false, ResultAlways},
		{"explicit always", &domain.StepCondition{Type: domain.ConditionAlways}, "", false, ResultAlways},

		{"if_opened not yet scheduled", &domain.StepCondition{Type: domain.ConditionIfOpened}, "", false, ResultWaiting},
		{"if_opened delivered only", &domain.StepCondition{Type: domain.ConditionIfOpened}, domain.JobDelivered, true, ResultWaiting},
		{"if_opened opened", &domain.StepCondition{Type: domain.ConditionIfOpened}, domain.JobOpened, true, ResultMet},
		{"if_opened click implies open", &domain.StepCondition{Type: domain.ConditionIfOpened}, domain.JobClicked, true, ResultMet},
		{"if_opened bounced with skip", &domain.StepCondition{Type: domain.ConditionIfOpened, SkipIfNotMet: true}, domain.JobHardBounce, true, ResultFailed},
		{"if_opened bounced without skip", &domain.StepCondition{Type: domain.ConditionIfOpened}, domain.JobHardBounce, true, ResultWaiting},

		{"if_clicked opened only", &domain.StepCondition{Type: domain.ConditionIfClicked}, domain.JobOpened, true, ResultWaiting},
		{"if_clicked clicked", &domain.StepCondition{Type: domain.ConditionIfClicked}, domain.JobClicked, true, ResultMet},
		{"if_clicked failed with skip", &domain.StepCondition{Type: domain.ConditionIfClicked, SkipIfNotMet: true}, domain.JobFailed, true, ResultFailed},

		{"if_not_opened delivered", &domain.StepCondition{Type: domain.ConditionIfNotOpened}, domain.JobDelivered, true, ResultMet},
		{"if_not_opened opened", &domain.StepCondition{Type: domain.ConditionIfNotOpened}, domain.JobOpened, true, ResultFailed},
		{"if_not_opened clicked", &domain.StepCondition{Type: domain.ConditionIfNotOpened}, domain.JobClicked, true, ResultFailed},

		{"if_not_clicked opened", &domain.StepCondition{Type: domain.ConditionIfNotClicked}, domain.JobOpened, true, ResultMet},
		{"if_not_clicked clicked", &domain.StepCondition{Type: domain.ConditionIfNotClicked}, domain.JobClicked, true, ResultFailed},
		{"if_not_clicked pending check", &domain.StepCondition{Type: domain.ConditionIfNotClicked}, "", false, ResultWaiting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.EvaluateCondition(tc.cond, tc.status, tc.scheduled)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildSequenceStateKeepsDeepestEngagement(t *testing.T) {
	e := testEngine()

	jobs := []*domain.Job{
		{Type: domain.InitialEmailType, Status: domain.JobOpened},
		{Type: domain.InitialEmailType, Status: domain.JobDelivered}, // older event arriving late
		{Type: "Check In", Status: domain.JobPending},
		{Type: "Case Study", Status: domain.JobSkipped},
	}
	st := e.buildSequenceState(jobs)

	assert.Equal(t, domain.JobOpened, st.statuses[domain.InitialEmailType],
		"a shallower status must never downgrade the view")
	assert.True(t, st.completed[domain.InitialEmailType])
	assert.NotNil(t, st.pending["Check In"])
	assert.True(t, st.skipped["Case Study"])
	assert.False(t, st.completed["Check In"])
}

func TestCheckStepNameResolvesPositionally(t *testing.T) {
	steps := []domain.FollowupStep{
		{Name: "Check In", Order: 1},
		{Name: "Case Study", Order: 2},
	}

	assert.Equal(t, domain.InitialEmailType, checkStepName(nil, steps, 0))
	assert.Equal(t, "Check In", checkStepName(&domain.StepCondition{CheckStep: "previous"}, steps, 1))
	assert.Equal(t, domain.InitialEmailType, checkStepName(&domain.StepCondition{CheckStep: domain.InitialEmailType}, steps, 1))
}

func TestEffectiveSequenceHonorsPerLeadSkips(t *testing.T) {
	s := &domain.Settings{Followups: []domain.FollowupStep{
		{Name: "Check In", Enabled: true, Order: 1},
		{Name: "Case Study", Enabled: true, Order: 2},
		{Name: "Breakup", Enabled: false, Order: 3},
	}}
	lead := &domain.Lead{SkippedFollowups: []string{"case study"}}

	seq := effectiveSequence(s, lead)
	if assert.Len(t, seq, 1) {
		assert.Equal(t, "Check In", seq[0].Name)
	}
}
