package domain

import (
	"strings"
	"time"
)

// TerminalState marks a lead that must never be scheduled again.
type TerminalState string

const (
	TerminalNone         TerminalState = ""
	TerminalDead         TerminalState = "dead"
	TerminalUnsubscribed TerminalState = "unsubscribed"
	TerminalComplaint    TerminalState = "complaint"
)

// Forced lead statuses that the resolver always honors first.
const (
	LeadStatusFrozen           = "frozen"
	LeadStatusConverted        = "converted"
	LeadStatusIdle             = "idle"
	LeadStatusSequenceComplete = "sequence_complete"
)

// Lead is a recipient with identity, timezone, and sequence state.
type Lead struct {
	ID               string        `json:"id" db:"id"`
	Email            string        `json:"email" db:"email"`
	Name             string        `json:"name" db:"name"`
	Country          string        `json:"country" db:"country"`
	City             string        `json:"city" db:"city"`
	Timezone         string        `json:"timezone" db:"timezone"`
	Status           string        `json:"status" db:"status"`
	Score            int           `json:"score" db:"score"`
	Tags             []string      `json:"tags" db:"tags"`
	FrozenUntil      *time.Time    `json:"frozen_until" db:"frozen_until"`
	FollowupsPaused  bool          `json:"followups_paused" db:"followups_paused"`
	SkippedFollowups []string      `json:"skipped_followups" db:"skipped_followups"`
	TerminalState    TerminalState `json:"terminal_state" db:"terminal_state"`
	TerminalStateAt  *time.Time    `json:"terminal_state_at" db:"terminal_state_at"`
	TerminalReason   string        `json:"terminal_reason" db:"terminal_reason"`
	IsInFailure      bool          `json:"is_in_failure" db:"is_in_failure"`
	TotalRetries     int           `json:"total_retries" db:"total_retries"`
	EmailsSent       int           `json:"emails_sent" db:"emails_sent"`
	EmailsOpened     int           `json:"emails_opened" db:"emails_opened"`
	EmailsClicked    int           `json:"emails_clicked" db:"emails_clicked"`
	EmailsBounced    int           `json:"emails_bounced" db:"emails_bounced"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the lead is closed to all future scheduling.
func (l *Lead) IsTerminal() bool { return l.TerminalState != TerminalNone }

// IsFrozen reports whether the lead is frozen at the given moment.
func (l *Lead) IsFrozen(now time.Time) bool {
	return l.FrozenUntil != nil && l.FrozenUntil.After(now)
}

// HasSkipped reports whether the named followup step was skipped for this
// lead. Comparison is case-insensitive, matching how step names arrive from
// user settings.
func (l *Lead) HasSkipped(step string) bool {
	for _, s := range l.SkippedFollowups {
		if strings.EqualFold(s, step) {
			return true
		}
	}
	return false
}

// EmailSchedule is the per-lead projection of the plan shown to the UI.
// It is an observable cache reconciled on every job change, never a source
// of truth.
type EmailSchedule struct {
	LeadID              string          `json:"lead_id" db:"lead_id"`
	InitialScheduledFor *time.Time      `json:"initial_scheduled_for" db:"initial_scheduled_for"`
	InitialStatus       JobStatus       `json:"initial_status" db:"initial_status"`
	NextScheduledEmail  *time.Time      `json:"next_scheduled_email" db:"next_scheduled_email"`
	Followups           []ScheduleEntry `json:"followups" db:"followups"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// ScheduleEntry is one row of the followups projection.
type ScheduleEntry struct {
	Name          string     `json:"name"`
	ScheduledFor  *time.Time `json:"scheduled_for"`
	Status        JobStatus  `json:"status"`
	Order         int        `json:"order"`
	IsConditional bool       `json:"is_conditional,omitempty"`
}
