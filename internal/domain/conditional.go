package domain

import "time"

// TriggerEvent is an engagement event a conditional rule can fire on.
type TriggerEvent string

const (
	TriggerOpened    TriggerEvent = "opened"
	TriggerClicked   TriggerEvent = "clicked"
	TriggerDelivered TriggerEvent = "delivered"
	TriggerBounced   TriggerEvent = "bounced"
)

// ConditionalEmail is a rule that schedules a side-sequence email when a
// matching engagement event fires on a specific step.
type ConditionalEmail struct {
	ID            string       `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	TriggerEvent  TriggerEvent `json:"trigger_event" db:"trigger_event"`
	TriggerStep   string       `json:"trigger_step" db:"trigger_step"`
	DelayHours    int          `json:"delay_hours" db:"delay_hours"`
	TemplateID    string       `json:"template_id" db:"template_id"`
	CancelPending bool         `json:"cancel_pending" db:"cancel_pending"`
	Priority      int          `json:"priority" db:"priority"`
	Enabled       bool         `json:"enabled" db:"enabled"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Delay returns the configured trigger-to-send delay.
func (c *ConditionalEmail) Delay() time.Duration {
	return time.Duration(c.DelayHours) * time.Hour
}
