package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates every state an email job can be in.
type JobStatus string

const (
	// Active statuses: the job still awaits delivery.
	JobPending     JobStatus = "pending"
	JobQueued      JobStatus = "queued"
	JobScheduled   JobStatus = "scheduled"
	JobRescheduled JobStatus = "rescheduled"
	JobDeferred    JobStatus = "deferred"

	// Inactive pending: recoverable by resume, never counts as active.
	JobPaused JobStatus = "paused"

	// Sent path.
	JobSent         JobStatus = "sent"
	JobDelivered    JobStatus = "delivered"
	JobOpened       JobStatus = "opened"
	JobUniqueOpened JobStatus = "unique_opened"
	JobClicked      JobStatus = "clicked"

	// Soft failures: eligible for automatic reschedule.
	JobSoftBounce JobStatus = "soft_bounce"

	// Hard failures.
	JobHardBounce JobStatus = "hard_bounce"
	JobBlocked    JobStatus = "blocked"
	JobSpam       JobStatus = "spam"
	JobInvalid    JobStatus = "invalid"
	JobError      JobStatus = "error"
	JobFailed     JobStatus = "failed"

	// User/system actions.
	JobCancelled JobStatus = "cancelled"
	JobSkipped   JobStatus = "skipped"

	// Lead-lifecycle terminals mirrored onto the job.
	JobUnsubscribed JobStatus = "unsubscribed"
	JobComplaint    JobStatus = "complaint"
	JobDead         JobStatus = "dead"
)

// MailCategory classifies a job by its role in the sequence. The display
// type string (e.g. "conditional:Thanks") is always derived from the
// category plus the step name, never parsed back.
type MailCategory string

const (
	CategoryInitial     MailCategory = "initial"
	CategoryFollowup    MailCategory = "followup"
	CategoryManual      MailCategory = "manual"
	CategoryConditional MailCategory = "conditional"
)

// InitialEmailType is the canonical step name of the first sequence email.
const InitialEmailType = "Initial Email"

// JobMetadata is the typed extension bag carried on every job. It replaces
// free-form metadata with a small fixed core; unknown keys from older rows
// are dropped on read.
type JobMetadata struct {
	QueueJobID    string `json:"queue_job_id,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	TriggerEvent  string `json:"trigger_event,omitempty"`
	Manual        bool   `json:"manual,omitempty"`
	ManualSlot    bool   `json:"manual_slot,omitempty"`
	RescheduledTo string `json:"rescheduled_to,omitempty"`
	OriginalJobID string `json:"original_job_id,omitempty"`
	Priority      int    `json:"priority,omitempty"`
	RuleID        string `json:"rule_id,omitempty"`
	Rescheduled   bool   `json:"rescheduled,omitempty"`
}

// MarshalMetadata serializes metadata for the JSONB column.
func MarshalMetadata(m JobMetadata) []byte {
	b, _ := json.Marshal(m)
	return b
}

// UnmarshalMetadata parses a JSONB metadata column. Nil or invalid input
// yields the zero value.
func UnmarshalMetadata(b []byte) JobMetadata {
	var m JobMetadata
	if len(b) > 0 {
		json.Unmarshal(b, &m)
	}
	return m
}

// Job is a single planned or sent email instance for one lead.
type Job struct {
	ID             string         `json:"id" db:"id"`
	LeadID         string         `json:"lead_id" db:"lead_id"`
	Type           string         `json:"type" db:"type"`
	Category       MailCategory   `json:"category" db:"category"`
	Status         JobStatus      `json:"status" db:"status"`
	ScheduledFor   time.Time      `json:"scheduled_for" db:"scheduled_for"`
	SentAt         *time.Time     `json:"sent_at" db:"sent_at"`
	FailedAt       *time.Time     `json:"failed_at" db:"failed_at"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	LastError      string         `json:"last_error" db:"last_error"`
	TemplateID     *string        `json:"template_id" db:"template_id"`
	Condition      *StepCondition `json:"condition" db:"condition"`
	IdempotencyKey string         `json:"idempotency_key" db:"idempotency_key"`
	Metadata       JobMetadata    `json:"metadata" db:"metadata"`
	PausedReason   string         `json:"paused_reason" db:"paused_reason"`
	PausedByType   string         `json:"paused_by_job_type" db:"paused_by_job_type"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// DisplayType derives the user-facing type string. Conditional jobs render
// as "conditional:<rule name>"; all other categories use the step name.
func (j *Job) DisplayType() string {
	if j.Category == CategoryConditional {
		return "conditional:" + j.Type
	}
	return j.Type
}

// IsConditional reports whether this job was produced by a conditional rule.
func (j *Job) IsConditional() bool { return j.Category == CategoryConditional }

// ConditionType enumerates the supported per-step conditions.
type ConditionType string

const (
	ConditionAlways       ConditionType = "always"
	ConditionIfOpened     ConditionType = "if_opened"
	ConditionIfClicked    ConditionType = "if_clicked"
	ConditionIfNotOpened  ConditionType = "if_not_opened"
	ConditionIfNotClicked ConditionType = "if_not_clicked"
)

// StepCondition gates a sequence step on the outcome of another step.
// CheckStep "previous" (or empty) resolves to the step immediately before
// in the sequence.
type StepCondition struct {
	Type         ConditionType `json:"type"`
	CheckStep    string        `json:"check_step,omitempty"`
	SkipIfNotMet bool          `json:"skip_if_not_met,omitempty"`
}

// IsAlways reports whether the condition never gates scheduling.
func (c *StepCondition) IsAlways() bool {
	return c == nil || c.Type == "" || c.Type == ConditionAlways
}
