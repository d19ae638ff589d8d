package worker

import (
	"context"
	"database/sql"
	"log"

	"github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/scheduler"
)

const sweepBatchSize = 200

// Sweeper runs the cron maintenance passes: relocating jobs that sit on
// newly paused dates, and restarting leads whose freeze has expired.
type Sweeper struct {
	db       *sql.DB
	engine   *scheduler.Engine
	jobs     *postgres.JobStore
	settings *postgres.SettingsStore
	rules    *rulebook.Rulebook
	registry *Registry
	cron     *cron.Cron
}

// NewSweeper wires the sweeper.
func NewSweeper(
	db *sql.DB,
	engine *scheduler.Engine,
	jobs *postgres.JobStore,
	settings *postgres.SettingsStore,
	rules *rulebook.Rulebook,
) *Sweeper {
	return &Sweeper{
		db:       db,
		engine:   engine,
		jobs:     jobs,
		settings: settings,
		rules:    rules,
		registry: NewRegistry(db, "sweeper"),
	}
}

// Start schedules the sweeps. The paused-date sweep runs hourly; the thaw
// sweep every ten minutes so an expired freeze never lingers long.
func (s *Sweeper) Start() {
	if s.cron != nil {
		return
	}
	s.registry.Register(nil)
	s.cron = cron.New()
	s.cron.AddFunc("0 * * * *", func() { s.sweepPausedDates(context.Background()) })
	s.cron.AddFunc("*/10 * * * *", func() { s.sweepExpiredFreezes(context.Background()) })
	s.cron.Start()
	log.Printf("[Sweeper] started (paused-date hourly, thaw every 10m)")
}

// Stop halts the cron scheduler and waits for running sweeps.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.registry.Deregister()
	log.Printf("[Sweeper] stopped")
}

// sweepPausedDates moves still-active jobs off dates that were paused after
// the jobs were scheduled.
func (s *Sweeper) sweepPausedDates(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		log.Printf("[Sweeper] settings load failed: %v", err)
		return
	}
	if len(settings.PausedDates) == 0 {
		return
	}

	statuses := rulebook.StatusStrings(s.rules.ActiveStatuses())
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM email_jobs
		WHERE status = ANY($1)
		  AND to_char(scheduled_for, 'YYYY-MM-DD') = ANY($2)
		LIMIT $3
	`, pq.Array(statuses), pq.Array(settings.PausedDates), sweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] paused-date scan failed: %v", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	moved := 0
	for _, id := range ids {
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			continue
		}
		if err := s.engine.MoveJobToNextWorkingDay(ctx, job); err != nil {
			log.Printf("[Sweeper] move failed for job %s: %v", id, err)
			continue
		}
		moved++
	}
	if moved > 0 {
		log.Printf("[Sweeper] moved %d jobs off paused dates", moved)
	}
}

// sweepExpiredFreezes restarts leads whose freeze window has passed.
func (s *Sweeper) sweepExpiredFreezes(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM leads
		WHERE frozen_until IS NOT NULL
		  AND frozen_until <= NOW()
		  AND terminal_state = ''
		LIMIT $1
	`, sweepBatchSize)
	if err != nil {
		log.Printf("[Sweeper] thaw scan failed: %v", err)
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE leads SET frozen_until = NULL, updated_at = NOW() WHERE id = $1`, id); err != nil {
			log.Printf("[Sweeper] thaw clear failed for lead %s: %v", id, err)
			continue
		}
		if err := s.engine.SyncLead(ctx, id, "freeze expired"); err != nil {
			log.Printf("[Sweeper] sync failed for thawed lead %s: %v", id, err)
		}
		if err := s.engine.ScheduleNextEmail(ctx, id); err != nil {
			log.Printf("[Sweeper] scheduling failed for thawed lead %s: %v", id, err)
		}
	}
	if len(ids) > 0 {
		log.Printf("[Sweeper] thawed %d leads", len(ids))
	}
}
