package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// ScheduleStore maintains the per-lead schedule projection. The projection
// is a cache for the UI; it is rebuilt, never reasoned about.
type ScheduleStore struct{ db *sql.DB }

// NewScheduleStore creates a Postgres-backed schedule projection store.
func NewScheduleStore(db *sql.DB) *ScheduleStore { return &ScheduleStore{db: db} }

// Get returns the lead's schedule projection.
func (s *ScheduleStore) Get(ctx context.Context, leadID string) (*domain.EmailSchedule, error) {
	es := &domain.EmailSchedule{LeadID: leadID}
	var followups []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_scheduled_for, COALESCE(initial_status,''),
		       next_scheduled_email, followups, updated_at
		FROM email_schedules WHERE lead_id = $1
	`, leadID).Scan(&es.InitialScheduledFor, &es.InitialStatus,
		&es.NextScheduledEmail, &followups, &es.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if len(followups) > 0 {
		if err := json.Unmarshal(followups, &es.Followups); err != nil {
			return nil, fmt.Errorf("parse followups: %w", err)
		}
	}
	return es, nil
}

// Reconcile rebuilds the projection from the lead's jobs. Called after any
// job mutation, inside the per-lead lock.
func (s *ScheduleStore) Reconcile(ctx context.Context, leadID string, jobs []*domain.Job) error {
	var initialAt *time.Time
	var initialStatus domain.JobStatus
	var nextAt *time.Time
	var entries []domain.ScheduleEntry

	for _, j := range jobs {
		switch j.Category {
		case domain.CategoryInitial:
			// Jobs arrive newest-first; the first initial row is the live
			// one, older rescheduled or cancelled predecessors are ignored.
			if initialAt == nil {
				at := j.ScheduledFor
				initialAt = &at
				initialStatus = j.Status
			}
		case domain.CategoryFollowup, domain.CategoryConditional:
			at := j.ScheduledFor
			entries = append(entries, domain.ScheduleEntry{
				Name:          j.Type,
				ScheduledFor:  &at,
				Status:        j.Status,
				IsConditional: j.Category == domain.CategoryConditional,
			})
		}
		switch j.Status {
		case domain.JobPending, domain.JobQueued, domain.JobScheduled,
			domain.JobRescheduled, domain.JobDeferred:
			if nextAt == nil || j.ScheduledFor.Before(*nextAt) {
				at := j.ScheduledFor
				nextAt = &at
			}
		}
	}

	sort.SliceStable(entries, func(i, k int) bool {
		a, b := entries[i].ScheduledFor, entries[k].ScheduledFor
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	for i := range entries {
		entries[i].Order = i + 1
	}

	followups, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal followups: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO email_schedules
			(lead_id, initial_scheduled_for, initial_status, next_scheduled_email,
			 followups, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (lead_id) DO UPDATE SET
			initial_scheduled_for = EXCLUDED.initial_scheduled_for,
			initial_status = EXCLUDED.initial_status,
			next_scheduled_email = EXCLUDED.next_scheduled_email,
			followups = EXCLUDED.followups,
			updated_at = NOW()
	`, leadID, initialAt, string(initialStatus), nextAt, followups)
	if err != nil {
		return fmt.Errorf("reconcile schedule: %w", err)
	}
	return nil
}
