// Package rulebook is the single place encoding engine policy: mail-type
// permissions and priorities, job status semantics and transitions, event
// categorization, retry policy, dead-mail detection, and status display
// formats. Everything else in the engine asks the rulebook instead of
// enumerating statuses or priorities itself.
package rulebook

import (
	"strings"
	"sync"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// Action is a user- or system-initiated operation on a job.
type Action string

const (
	ActionSkip       Action = "skip"
	ActionCancel     Action = "cancel"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionRetry      Action = "retry"
	ActionReschedule Action = "reschedule"
)

// MailType describes one category of mail and its permissions.
type MailType struct {
	Name          string
	Category      domain.MailCategory
	Priority      int
	CanCancel     bool
	CanSkip       bool
	CanPause      bool
	InternalTypes []string
}

// EventKind buckets provider events by the handler behavior they require.
type EventKind string

const (
	KindSuccess        EventKind = "success"
	KindAutoReschedule EventKind = "auto_reschedule"
	KindSpam           EventKind = "spam"
	KindFailed         EventKind = "failed"
	KindUnknown        EventKind = "unknown"
)

// EventCategory is the rulebook's verdict on an event type.
type EventCategory struct {
	Kind        EventKind
	JobStatus   domain.JobStatus // status the job moves to, if any
	ScoreAdjust int              // lead score delta
}

// RetryPolicy controls the exponential retry delay curve.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Overrides carries the user-tunable subset of the rulebook, stored on the
// settings singleton. Zero values leave the defaults in place.
type Overrides struct {
	Priorities  map[domain.MailCategory]int `json:"priorities,omitempty"`
	RetryPolicy *struct {
		InitialDelayMinutes int     `json:"initial_delay_minutes"`
		Multiplier          float64 `json:"multiplier"`
		MaxDelayHours       int     `json:"max_delay_hours"`
	} `json:"retry_policy,omitempty"`
	CancelPendingFollowupsIfConfigured *bool `json:"cancel_pending_followups_if_configured,omitempty"`
}

// snapshot is an immutable view of the rulebook tables. Readers take the
// current snapshot under RLock; overrides build a new one.
type snapshot struct {
	mailTypes              map[domain.MailCategory]MailType
	events                 map[domain.EventType]EventCategory
	transitions            map[domain.JobStatus][]domain.JobStatus
	retry                  RetryPolicy
	cancelPendingFollowups bool
}

// Rulebook answers all policy questions for the engine. Safe for
// concurrent use.
type Rulebook struct {
	mu   sync.RWMutex
	snap *snapshot
}

// New returns a rulebook with the default policy tables.
func New() *Rulebook {
	return &Rulebook{snap: defaultSnapshot()}
}

func defaultSnapshot() *snapshot {
	return &snapshot{
		mailTypes: map[domain.MailCategory]MailType{
			domain.CategoryConditional: {
				Name:          "Conditional Email",
				Category:      domain.CategoryConditional,
				Priority:      100,
				CanCancel:     true,
				InternalTypes: []string{"conditional"},
			},
			domain.CategoryManual: {
				Name:          "Manual Email",
				Category:      domain.CategoryManual,
				Priority:      90,
				CanCancel:     true,
				InternalTypes: []string{"manual"},
			},
			domain.CategoryInitial: {
				Name:          domain.InitialEmailType,
				Category:      domain.CategoryInitial,
				Priority:      80,
				CanCancel:     true,
				InternalTypes: []string{"initial"},
			},
			domain.CategoryFollowup: {
				Name:          "Followup",
				Category:      domain.CategoryFollowup,
				Priority:      70,
				CanSkip:       true,
				CanPause:      true,
				InternalTypes: []string{"followup", "follow-up", "follow up"},
			},
		},
		events: map[domain.EventType]EventCategory{
			domain.EventSent:         {Kind: KindSuccess, JobStatus: domain.JobSent},
			domain.EventDelivered:    {Kind: KindSuccess, JobStatus: domain.JobDelivered},
			domain.EventOpened:       {Kind: KindSuccess, JobStatus: domain.JobOpened, ScoreAdjust: 5},
			domain.EventUniqueOpened: {Kind: KindSuccess, JobStatus: domain.JobUniqueOpened, ScoreAdjust: 5},
			domain.EventClicked:      {Kind: KindSuccess, JobStatus: domain.JobClicked, ScoreAdjust: 10},
			domain.EventSoftBounce:   {Kind: KindAutoReschedule, JobStatus: domain.JobSoftBounce, ScoreAdjust: -2},
			domain.EventDeferred:     {Kind: KindAutoReschedule, JobStatus: domain.JobDeferred, ScoreAdjust: -1},
			domain.EventHardBounce:   {Kind: KindFailed, JobStatus: domain.JobHardBounce, ScoreAdjust: -10},
			domain.EventBlocked:      {Kind: KindFailed, JobStatus: domain.JobBlocked, ScoreAdjust: -10},
			domain.EventInvalid:      {Kind: KindFailed, JobStatus: domain.JobInvalid, ScoreAdjust: -10},
			domain.EventError:        {Kind: KindFailed, JobStatus: domain.JobError, ScoreAdjust: -5},
			domain.EventSpam:         {Kind: KindSpam, JobStatus: domain.JobSpam, ScoreAdjust: -20},
			domain.EventUnsubscribed: {Kind: KindSpam, JobStatus: domain.JobUnsubscribed, ScoreAdjust: -20},
			domain.EventComplaint:    {Kind: KindSpam, JobStatus: domain.JobComplaint, ScoreAdjust: -20},
		},
		transitions: map[domain.JobStatus][]domain.JobStatus{
			domain.JobPending: {domain.JobQueued, domain.JobScheduled, domain.JobSent,
				domain.JobCancelled, domain.JobPaused, domain.JobRescheduled, domain.JobSkipped,
				domain.JobFailed, domain.JobError, domain.JobDead},
			domain.JobQueued: {domain.JobSent, domain.JobPending, domain.JobCancelled,
				domain.JobPaused, domain.JobFailed, domain.JobError, domain.JobDead},
			domain.JobScheduled: {domain.JobPending, domain.JobQueued, domain.JobSent,
				domain.JobCancelled, domain.JobPaused, domain.JobRescheduled, domain.JobSkipped,
				domain.JobDead},
			domain.JobRescheduled: {domain.JobPending, domain.JobQueued, domain.JobSent,
				domain.JobCancelled, domain.JobPaused, domain.JobDead},
			domain.JobDeferred: {domain.JobPending, domain.JobRescheduled, domain.JobSent,
				domain.JobDelivered, domain.JobCancelled, domain.JobFailed, domain.JobDead},
			domain.JobPaused: {domain.JobPending, domain.JobCancelled, domain.JobDead},
			domain.JobSent: {domain.JobDelivered, domain.JobSoftBounce, domain.JobHardBounce,
				domain.JobBlocked, domain.JobDeferred, domain.JobSpam, domain.JobFailed,
				domain.JobOpened, domain.JobUniqueOpened, domain.JobClicked,
				domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead},
			domain.JobDelivered: {domain.JobOpened, domain.JobUniqueOpened, domain.JobClicked,
				domain.JobSpam, domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead},
			domain.JobOpened: {domain.JobUniqueOpened, domain.JobClicked, domain.JobSpam,
				domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead},
			domain.JobUniqueOpened: {domain.JobOpened, domain.JobClicked, domain.JobSpam,
				domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead},
			domain.JobClicked: {domain.JobOpened, domain.JobUniqueOpened, domain.JobSpam,
				domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead},
			domain.JobSoftBounce: {domain.JobPending, domain.JobRescheduled, domain.JobFailed,
				domain.JobDead},
			domain.JobHardBounce: {domain.JobDead},
			domain.JobBlocked:    {domain.JobDead},
			domain.JobSpam:       {domain.JobDead},
			domain.JobInvalid:    {domain.JobDead},
			domain.JobError:      {domain.JobPending, domain.JobRescheduled, domain.JobFailed, domain.JobDead},
			domain.JobFailed:     {domain.JobPending, domain.JobRescheduled, domain.JobDead},
		},
		retry: RetryPolicy{
			InitialDelay: 30 * time.Minute,
			Multiplier:   2.0,
			MaxDelay:     24 * time.Hour,
		},
		cancelPendingFollowups: true,
	}
}

func (r *Rulebook) view() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Apply installs user overrides as a new copy-on-write snapshot. Passing a
// zero Overrides resets nothing; fields left at zero keep the defaults
// currently in effect.
func (r *Rulebook) Apply(o Overrides) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *r.snap
	if len(o.Priorities) > 0 {
		mt := make(map[domain.MailCategory]MailType, len(next.mailTypes))
		for k, v := range next.mailTypes {
			if p, ok := o.Priorities[k]; ok && p > 0 {
				v.Priority = p
			}
			mt[k] = v
		}
		next.mailTypes = mt
	}
	if o.RetryPolicy != nil {
		rp := next.retry
		if o.RetryPolicy.InitialDelayMinutes > 0 {
			rp.InitialDelay = time.Duration(o.RetryPolicy.InitialDelayMinutes) * time.Minute
		}
		if o.RetryPolicy.Multiplier > 1 {
			rp.Multiplier = o.RetryPolicy.Multiplier
		}
		if o.RetryPolicy.MaxDelayHours > 0 {
			rp.MaxDelay = time.Duration(o.RetryPolicy.MaxDelayHours) * time.Hour
		}
		next.retry = rp
	}
	if o.CancelPendingFollowupsIfConfigured != nil {
		next.cancelPendingFollowups = *o.CancelPendingFollowupsIfConfigured
	}
	r.snap = &next
}

// MailTypeFor returns the mail type for a category.
func (r *Rulebook) MailTypeFor(c domain.MailCategory) MailType {
	s := r.view()
	if mt, ok := s.mailTypes[c]; ok {
		return mt
	}
	return s.mailTypes[domain.CategoryFollowup]
}

// ResolveMailType maps a free-form type string to a mail type via substring
// match against each type's internal names. "conditional:<name>" maps to
// the conditional type; anything unrecognized is a followup.
func (r *Rulebook) ResolveMailType(typeStr string) MailType {
	s := r.view()
	lower := strings.ToLower(typeStr)
	for _, mt := range s.mailTypes {
		for _, internal := range mt.InternalTypes {
			if strings.Contains(lower, internal) {
				return mt
			}
		}
	}
	return s.mailTypes[domain.CategoryFollowup]
}

// Priority returns the scheduling priority of a category. Higher wins.
func (r *Rulebook) Priority(c domain.MailCategory) int {
	return r.MailTypeFor(c).Priority
}

// ValidateAction reports whether an action is permitted for the given
// category and current status, with a human-readable reason on denial.
func (r *Rulebook) ValidateAction(a Action, c domain.MailCategory, status domain.JobStatus) (bool, string) {
	mt := r.MailTypeFor(c)
	switch a {
	case ActionSkip:
		if !mt.CanSkip {
			return false, string(c) + " emails cannot be skipped"
		}
		if !r.IsActive(status) && status != domain.JobPaused {
			return false, "only pending emails can be skipped"
		}
	case ActionCancel:
		if !mt.CanCancel {
			return false, string(c) + " emails cannot be cancelled"
		}
		if r.IsTerminal(status) {
			return false, "email is already in a terminal state"
		}
	case ActionPause:
		if !mt.CanPause {
			return false, string(c) + " emails cannot be paused"
		}
		if !r.IsActive(status) {
			return false, "only active emails can be paused"
		}
	case ActionResume:
		if status != domain.JobPaused {
			return false, "only paused emails can be resumed"
		}
	case ActionRetry:
		if !r.IsRetriable(status) {
			return false, "email is not in a retriable state"
		}
	case ActionReschedule:
		if !r.IsActive(status) && !r.IsRetriable(status) {
			return false, "email cannot be rescheduled from its current state"
		}
	default:
		return false, "unknown action"
	}
	return true, ""
}

// EventCategoryFor returns the handler category for an event type.
func (r *Rulebook) EventCategoryFor(ev domain.EventType) EventCategory {
	if c, ok := r.view().events[ev]; ok {
		return c
	}
	return EventCategory{Kind: KindUnknown}
}

// CanTransition reports whether a job may move from one status to another.
// Self-transitions are allowed (idempotent replays).
func (r *Rulebook) CanTransition(from, to domain.JobStatus) bool {
	if from == to {
		return true
	}
	for _, t := range r.view().transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal successor statuses.
func (r *Rulebook) AllowedTransitions(from domain.JobStatus) []domain.JobStatus {
	src := r.view().transitions[from]
	out := make([]domain.JobStatus, len(src))
	copy(out, src)
	return out
}

// CancelPendingFollowupsConfigured reports whether conditional rules with
// cancelPending are allowed to pause pending followups.
func (r *Rulebook) CancelPendingFollowupsConfigured() bool {
	return r.view().cancelPendingFollowups
}

// ShouldMarkAsDead reports whether the given event pushes the job's lead to
// the dead terminal state: the event must be fatal and the next retry would
// exceed the type's budget.
func (r *Rulebook) ShouldMarkAsDead(job *domain.Job, ev domain.EventType, settings *domain.Settings) bool {
	switch ev {
	case domain.EventHardBounce, domain.EventBlocked, domain.EventInvalid,
		domain.EventError, domain.EventComplaint, domain.EventUnsubscribed:
	case domain.EventSoftBounce, domain.EventDeferred:
		// Soft failures kill only once retries are exhausted.
	default:
		return false
	}
	return job.RetryCount+1 > settings.MaxRetriesFor(job.Type)
}

// CalculateRetryDelay returns the exponential backoff delay for the nth
// retry, capped at the policy maximum.
func (r *Rulebook) CalculateRetryDelay(retryCount int) time.Duration {
	p := r.view().retry
	d := p.InitialDelay
	for i := 0; i < retryCount; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
