// Package status computes the canonical lead status from the lead's jobs.
// Nothing else writes lead.status: engagement handlers mutate jobs and then
// call SyncAfterJobChange, which re-derives the value from scratch. That
// keeps the stored status convergent no matter how events interleave.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

// SettingsSource supplies current engine settings. The postgres settings
// store implements it with a short cache.
type SettingsSource interface {
	Get(ctx context.Context) (*domain.Settings, error)
}

// RuleSource resolves conditional rules by name for display strings.
type RuleSource interface {
	GetConditionalEmailByName(ctx context.Context, name string) (*domain.ConditionalEmail, error)
}

// Resolution is the outcome of resolving one lead.
type Resolution struct {
	Status string
	Reason string
	Job    *domain.Job
}

// Resolver derives lead status. It is a read-mostly component; the only
// write it performs is the final UPDATE in SyncAfterJobChange.
type Resolver struct {
	db       *sql.DB
	rules    *rulebook.Rulebook
	settings SettingsSource
	ruleSrc  RuleSource
	now      func() time.Time
}

// NewResolver creates a resolver. ruleSrc may be nil; conditional display
// strings then fall back to the job metadata alone.
func NewResolver(db *sql.DB, rules *rulebook.Rulebook, settings SettingsSource, ruleSrc RuleSource) *Resolver {
	return &Resolver{
		db:       db,
		rules:    rules,
		settings: settings,
		ruleSrc:  ruleSrc,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Resolve computes the canonical status for a lead without writing it.
func (r *Resolver) Resolve(ctx context.Context, leadID string) (*Resolution, error) {
	lead, err := r.loadLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	// Forced and terminal values always win.
	if lead.TerminalState != domain.TerminalNone {
		return &Resolution{Status: string(lead.TerminalState), Reason: "terminal state"}, nil
	}
	if lead.Status == domain.LeadStatusConverted {
		return &Resolution{Status: domain.LeadStatusConverted, Reason: "forced"}, nil
	}
	if lead.FrozenUntil != nil && lead.FrozenUntil.After(r.now()) {
		return &Resolution{Status: domain.LeadStatusFrozen, Reason: "frozen until " + lead.FrozenUntil.Format(time.RFC3339)}, nil
	}

	if job, err := r.earliestActiveJob(ctx, leadID); err != nil {
		return nil, err
	} else if job != nil {
		visible := rulebook.VisibleScheduledStatus(job)
		return &Resolution{
			Status: rulebook.FormatJobStatus(job, visible, r.lookup(ctx)),
			Reason: "active job " + job.ID,
			Job:    job,
		}, nil
	}

	if lead.IsInFailure {
		if job, err := r.latestFailedJob(ctx, leadID); err != nil {
			return nil, err
		} else if job != nil {
			return &Resolution{
				Status: rulebook.FormatJobStatus(job, job.Status, r.lookup(ctx)),
				Reason: "failed job " + job.ID,
				Job:    job,
			}, nil
		}
	}

	if job, err := r.latestSentJob(ctx, leadID); err != nil {
		return nil, err
	} else if job != nil {
		done, err := r.sequenceComplete(ctx, leadID)
		if err != nil {
			return nil, err
		}
		if done {
			return &Resolution{Status: domain.LeadStatusSequenceComplete, Reason: "all steps completed", Job: job}, nil
		}
		return &Resolution{
			Status: rulebook.FormatJobStatus(job, domain.JobSent, r.lookup(ctx)),
			Reason: "latest sent job " + job.ID,
			Job:    job,
		}, nil
	}

	return &Resolution{Status: domain.LeadStatusIdle, Reason: "no jobs"}, nil
}

// SyncAfterJobChange resolves the lead and persists the result. It runs at
// the tail of every mutating operation.
func (r *Resolver) SyncAfterJobChange(ctx context.Context, leadID, reason string) error {
	res, err := r.Resolve(ctx, leadID)
	if err != nil {
		return fmt.Errorf("resolve lead %s: %w", leadID, err)
	}
	for _, forbidden := range rulebook.ForbiddenLeadStatuses() {
		if res.Status == string(forbidden) {
			return fmt.Errorf("refusing to write forbidden lead status %q for lead %s", res.Status, leadID)
		}
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2`,
		res.Status, leadID)
	if err != nil {
		return fmt.Errorf("write lead status: %w", err)
	}
	logger.Debug("lead status resolved", "lead_id", leadID, "status", res.Status, "trigger", reason)
	return nil
}

func (r *Resolver) lookup(ctx context.Context) rulebook.RuleLookup {
	if r.ruleSrc == nil {
		return nil
	}
	return func(name string) *domain.ConditionalEmail {
		rule, err := r.ruleSrc.GetConditionalEmailByName(ctx, name)
		if err != nil {
			return nil
		}
		return rule
	}
}

type leadRow struct {
	Status        string
	FrozenUntil   *time.Time
	TerminalState domain.TerminalState
	IsInFailure   bool
}

func (r *Resolver) loadLead(ctx context.Context, leadID string) (*leadRow, error) {
	var row leadRow
	var terminal sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads WHERE id = $1`,
		leadID,
	).Scan(&row.Status, &row.FrozenUntil, &terminal, &row.IsInFailure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s not found", leadID)
	}
	if err != nil {
		return nil, err
	}
	row.TerminalState = domain.TerminalState(terminal.String)
	return &row, nil
}

const jobColumns = `id, lead_id, type, category, status, scheduled_for, sent_at, retry_count, metadata`

func scanJob(row *sql.Row) (*domain.Job, error) {
	var job domain.Job
	var raw []byte
	err := row.Scan(&job.ID, &job.LeadID, &job.Type, &job.Category, &job.Status,
		&job.ScheduledFor, &job.SentAt, &job.RetryCount, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	job.Metadata = domain.UnmarshalMetadata(raw)
	return &job, nil
}

func (r *Resolver) earliestActiveJob(ctx context.Context, leadID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM email_jobs
		WHERE lead_id = $1 AND status = ANY($2)
		ORDER BY scheduled_for ASC
		LIMIT 1`,
		leadID, pq.Array(rulebook.StatusStrings(r.rules.ActiveStatuses())))
	return scanJob(row)
}

func (r *Resolver) latestFailedJob(ctx context.Context, leadID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM email_jobs
		WHERE lead_id = $1 AND status = ANY($2)
		ORDER BY failed_at DESC NULLS LAST, scheduled_for DESC
		LIMIT 1`,
		leadID, pq.Array(rulebook.StatusStrings(r.rules.FailureStatuses())))
	return scanJob(row)
}

func (r *Resolver) latestSentJob(ctx context.Context, leadID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM email_jobs
		WHERE lead_id = $1 AND status = ANY($2)
		ORDER BY sent_at DESC NULLS LAST, scheduled_for DESC
		LIMIT 1`,
		leadID, pq.Array(rulebook.StatusStrings(r.rules.SuccessfullySentStatuses())))
	return scanJob(row)
}

// sequenceComplete reports whether the initial email and every enabled
// followup step have a completed job.
func (r *Resolver) sequenceComplete(ctx context.Context, leadID string) (bool, error) {
	settings, err := r.settings.Get(ctx)
	if err != nil {
		return false, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT type
		FROM email_jobs
		WHERE lead_id = $1 AND status = ANY($2)`,
		leadID, pq.Array(rulebook.StatusStrings(r.rules.CompletedHistoryStatuses())))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	completed := map[string]bool{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return false, err
		}
		completed[typ] = true
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	if !completed[domain.InitialEmailType] {
		return false, nil
	}
	for _, step := range settings.EnabledFollowups() {
		if !completed[step.Name] {
			return false, nil
		}
	}
	return true, nil
}
