package domain

import "time"

// EventType is a normalized provider or system event name.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventUniqueOpened EventType = "unique_opened"
	EventClicked      EventType = "clicked"
	EventSoftBounce   EventType = "soft_bounce"
	EventHardBounce   EventType = "hard_bounce"
	EventDeferred     EventType = "deferred"
	EventBlocked      EventType = "blocked"
	EventSpam         EventType = "spam"
	EventUnsubscribed EventType = "unsubscribed"
	EventComplaint    EventType = "complaint"
	EventInvalid      EventType = "invalid"
	EventError        EventType = "error"
)

// Event is the normalized envelope every handler consumes, regardless of
// which provider or poller produced it.
type Event struct {
	Type       EventType `json:"event_type"`
	LeadID     string    `json:"lead_id"`
	EmailJobID string    `json:"email_job_id"`
	Data       EventData `json:"event_data"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventData carries provider detail on an event.
type EventData struct {
	Reason            string `json:"reason,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	ProviderEventName string `json:"provider_event_name,omitempty"`
}

// AggregateID returns the dedup aggregate for the event store: the job when
// known, otherwise the lead.
func (e Event) AggregateID() string {
	if e.EmailJobID != "" {
		return e.EmailJobID
	}
	return e.LeadID
}

// HistoryEntry is one row of the per-lead append-only event history.
type HistoryEntry struct {
	ID         string    `json:"id" db:"id"`
	LeadID     string    `json:"lead_id" db:"lead_id"`
	Event      string    `json:"event" db:"event"`
	EmailType  string    `json:"email_type" db:"email_type"`
	EmailJobID string    `json:"email_job_id" db:"email_job_id"`
	Details    string    `json:"details" db:"details"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// Notification is a user-visible failure or compliance record. These are
// the only errors surfaced outside logs.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	LeadID    string    `json:"lead_id" db:"lead_id"`
	Kind      string    `json:"kind" db:"kind"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Notification kinds.
const (
	NotifyLeadDead       = "lead_dead"
	NotifyLeadComplaint  = "lead_complaint"
	NotifyLeadUnsub      = "lead_unsubscribed"
	NotifyManualRetry    = "manual_retry_required"
	NotifyRescheduleFail = "reschedule_failed"
)
