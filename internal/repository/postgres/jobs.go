package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// ErrDuplicateJob is returned when an insert collides on the idempotency
// key. Callers treat it as "already scheduled", not a failure.
var ErrDuplicateJob = errors.New("duplicate job")

// JobStore persists email jobs.
type JobStore struct{ db *sql.DB }

// NewJobStore creates a Postgres-backed job store.
func NewJobStore(db *sql.DB) *JobStore { return &JobStore{db: db} }

const jobColumns = `id, lead_id, type, category, status, scheduled_for, sent_at, failed_at,
	       retry_count, COALESCE(last_error,''), template_id, condition, idempotency_key,
	       metadata, COALESCE(paused_reason,''), COALESCE(paused_by_job_type,''),
	       created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*domain.Job, error) {
	j := &domain.Job{}
	var cond, meta []byte
	err := row.Scan(
		&j.ID, &j.LeadID, &j.Type, &j.Category, &j.Status, &j.ScheduledFor, &j.SentAt, &j.FailedAt,
		&j.RetryCount, &j.LastError, &j.TemplateID, &cond, &j.IdempotencyKey,
		&meta, &j.PausedReason, &j.PausedByType,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if len(cond) > 0 {
		var c domain.StepCondition
		if json.Unmarshal(cond, &c) == nil && c.Type != "" {
			j.Condition = &c
		}
	}
	j.Metadata = domain.UnmarshalMetadata(meta)
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Create inserts a new job. A collision on idempotency_key yields
// ErrDuplicateJob.
func (s *JobStore) Create(ctx context.Context, j *domain.Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.IdempotencyKey == "" {
		j.IdempotencyKey = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	var cond []byte
	if j.Condition != nil {
		cond, _ = json.Marshal(j.Condition)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_jobs
			(id, lead_id, type, category, status, scheduled_for, retry_count,
			 template_id, condition, idempotency_key, metadata,
			 paused_reason, paused_by_job_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, j.ID, j.LeadID, j.Type, j.Category, j.Status, j.ScheduledFor, j.RetryCount,
		j.TemplateID, cond, j.IdempotencyKey, domain.MarshalMetadata(j.Metadata),
		j.PausedReason, j.PausedByType)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", ErrDuplicateJob
		}
		return "", fmt.Errorf("create job: %w", err)
	}
	return j.ID, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_jobs WHERE id = $1`, id))
}

// ListForLead batch-loads every job for a lead, newest first.
func (s *JobStore) ListForLead(ctx context.Context, leadID string) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE lead_id = $1
		ORDER BY created_at DESC`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListForLeadByStatus returns the lead's jobs in any of the given statuses,
// earliest scheduled first.
func (s *JobStore) ListForLeadByStatus(ctx context.Context, leadID string, statuses []string) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE lead_id = $1 AND status = ANY($2)
		ORDER BY scheduled_for ASC`, leadID, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

// ExistsForType reports whether the lead already has a job of this type in
// one of the given statuses, the duplicate-journey check.
func (s *JobStore) ExistsForType(ctx context.Context, leadID, typ string, statuses []string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_jobs
			WHERE lead_id = $1 AND type = $2 AND status = ANY($3)
		)`, leadID, typ, pq.Array(statuses)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("duplicate check: %w", err)
	}
	return exists, nil
}

// UpdateStatus writes a status plus optional lastError unconditionally.
// State-machine legality is checked by the caller against the rulebook.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, to domain.JobStatus, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = $1,
		    last_error = CASE WHEN $2 <> '' THEN $2 ELSE last_error END,
		    failed_at = CASE WHEN $2 <> '' THEN NOW() ELSE failed_at END,
		    updated_at = NOW()
		WHERE id = $3`, to, lastError, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// Transition performs a conditional status update and reports whether this
// caller won. The due-job claim (pending to queued) rides on this.
func (s *JobStore) Transition(ctx context.Context, id string, from, to domain.JobStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkSent records a successful hand-off to the provider.
func (s *JobStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs SET status = $1, sent_at = $2, updated_at = NOW()
		WHERE id = $3`, domain.JobSent, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// UpdateSchedule moves a job to a new time and optionally flags it
// rescheduled in metadata.
func (s *JobStore) UpdateSchedule(ctx context.Context, id string, at time.Time, meta domain.JobMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs SET scheduled_for = $1, metadata = $2, updated_at = NOW()
		WHERE id = $3`, at, domain.MarshalMetadata(meta), id)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// SetMetadata rewrites the metadata bag.
func (s *JobStore) SetMetadata(ctx context.Context, id string, meta domain.JobMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs SET metadata = $1, updated_at = NOW() WHERE id = $2`,
		domain.MarshalMetadata(meta), id)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// Pause moves the given jobs to paused, recording who displaced them.
func (s *JobStore) Pause(ctx context.Context, ids []string, reason, byType string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = $1, paused_reason = $2, paused_by_job_type = $3, updated_at = NOW()
		WHERE id = ANY($4)`, domain.JobPaused, reason, byType, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("pause jobs: %w", err)
	}
	return nil
}

// Resume moves a paused job back to pending at a new time. Retry count is
// untouched: resume is recovery, not retry.
func (s *JobStore) Resume(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET status = $1, scheduled_for = $2, paused_reason = '', paused_by_job_type = '',
		    updated_at = NOW()
		WHERE id = $3 AND status = $4`, domain.JobPending, at, id, domain.JobPaused)
	if err != nil {
		return false, fmt.Errorf("resume job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CancelActive cancels every active job for the lead except the one named,
// returning the cancelled ids so queue entries can be removed too.
func (s *JobStore) CancelActive(ctx context.Context, leadID, exceptJobID, reason string, activeStatuses []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE email_jobs
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE lead_id = $3 AND id <> $4 AND status = ANY($5)
		RETURNING id`, domain.JobCancelled, reason, leadID, exceptJobID, pq.Array(activeStatuses))
	if err != nil {
		return nil, fmt.Errorf("cancel active jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListPausedBy returns the lead's jobs paused by the given displacing type.
func (s *JobStore) ListPausedBy(ctx context.Context, leadID, byType string) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE lead_id = $1 AND status = $2 AND paused_by_job_type = $3
		ORDER BY scheduled_for ASC`, leadID, domain.JobPaused, byType)
	if err != nil {
		return nil, fmt.Errorf("list paused jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListDue returns pending jobs whose time has come, oldest first, capped.
func (s *JobStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM email_jobs
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3`, domain.JobPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	return collectJobs(rows)
}

// IncrementRetry bumps the retry counter and returns the new value.
func (s *JobStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		UPDATE email_jobs SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return n, nil
}

// CountRecentPending counts the lead's recently created pending jobs in the
// given categories; the delivered handler uses it as a scheduling
// idempotency window.
func (s *JobStore) CountRecentPending(ctx context.Context, leadID string, categories []string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_jobs
		WHERE lead_id = $1 AND category = ANY($2) AND status = $3 AND created_at >= $4`,
		leadID, pq.Array(categories), domain.JobPending, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent pending: %w", err)
	}
	return n, nil
}
