package scheduler

import (
	"context"
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/distlock"
	"github.com/crewviateam/lead-flow-server-sub000/internal/queue"
	"github.com/crewviateam/lead-flow-server-sub000/internal/ratelimit"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
	"github.com/crewviateam/lead-flow-server-sub000/internal/status"
)

// Deps are the collaborators an Engine needs. Everything is injected; the
// engine holds no globals.
type Deps struct {
	DB    *sql.DB
	Redis *redis.Client
	Rules *rulebook.Rulebook
	Clock schedule.Clock

	Leads         *postgres.LeadStore
	Jobs          *postgres.JobStore
	Schedules     *postgres.ScheduleStore
	Settings      *postgres.SettingsStore
	Conditionals  *postgres.ConditionalStore
	Notifications *postgres.NotificationStore
	History       *postgres.HistoryStore

	Limiter   *ratelimit.Limiter
	SendQueue *queue.Queue
	Resolver  *status.Resolver
}

// Engine orchestrates scheduling for all leads.
type Engine struct {
	db    *sql.DB
	redis *redis.Client
	rules *rulebook.Rulebook
	clock schedule.Clock

	leads         *postgres.LeadStore
	jobs          *postgres.JobStore
	schedules     *postgres.ScheduleStore
	settings      *postgres.SettingsStore
	conditionals  *postgres.ConditionalStore
	notifications *postgres.NotificationStore
	history       *postgres.HistoryStore

	limiter   *ratelimit.Limiter
	sendQueue *queue.Queue
	resolver  *status.Resolver
}

// NewEngine wires an engine from its dependencies.
func NewEngine(d Deps) *Engine {
	clock := d.Clock
	if clock == nil {
		clock = schedule.NewClock()
	}
	return &Engine{
		db:            d.DB,
		redis:         d.Redis,
		rules:         d.Rules,
		clock:         clock,
		leads:         d.Leads,
		jobs:          d.Jobs,
		schedules:     d.Schedules,
		settings:      d.Settings,
		conditionals:  d.Conditionals,
		notifications: d.Notifications,
		history:       d.History,
		limiter:       d.Limiter,
		sendQueue:     d.SendQueue,
		resolver:      d.Resolver,
	}
}

// withLeadLock serializes fn on the lead. A held lock is not an error: the
// holder is doing the same work, so the caller silently yields. Reentrant
// calls (same lead, same call chain) run fn directly.
func (e *Engine) withLeadLock(ctx context.Context, leadID string, fn func(context.Context) error) error {
	err := distlock.WithLeadLock(ctx, e.redis, e.db, leadID, fn)
	if errors.Is(err, distlock.ErrNotAcquired) {
		return nil
	}
	return err
}

// WithLeadLock exposes the per-lead lock to event handlers so every mutating
// handler path runs serialized on the lead.
func (e *Engine) WithLeadLock(ctx context.Context, leadID string, fn func(context.Context) error) error {
	return e.withLeadLock(ctx, leadID, fn)
}

// reconcileAndResolve rebuilds the schedule projection and re-derives the
// lead status. Runs last in every mutating path.
func (e *Engine) reconcileAndResolve(ctx context.Context, leadID, reason string) error {
	jobs, err := e.jobs.ListForLead(ctx, leadID)
	if err != nil {
		return err
	}
	if err := e.schedules.Reconcile(ctx, leadID, jobs); err != nil {
		return err
	}
	return e.resolver.SyncAfterJobChange(ctx, leadID, reason)
}

// SyncLead rebuilds the lead's schedule projection and status. Event
// handlers call it at the tail of their mutations.
func (e *Engine) SyncLead(ctx context.Context, leadID, reason string) error {
	return e.reconcileAndResolve(ctx, leadID, reason)
}

// logHistory appends a history entry, best-effort.
func (e *Engine) logHistory(ctx context.Context, leadID, event, emailType, jobID, details string) {
	_ = e.history.Append(ctx, &domain.HistoryEntry{
		LeadID:     leadID,
		Event:      event,
		EmailType:  emailType,
		EmailJobID: jobID,
		Details:    details,
	})
}
