package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// LeadStore persists leads.
type LeadStore struct{ db *sql.DB }

// NewLeadStore creates a Postgres-backed lead store.
func NewLeadStore(db *sql.DB) *LeadStore { return &LeadStore{db: db} }

const leadColumns = `id, email, COALESCE(name,''), COALESCE(country,''), COALESCE(city,''),
	       COALESCE(timezone,''), status, score, tags, frozen_until, followups_paused,
	       skipped_followups, COALESCE(terminal_state,''), terminal_state_at,
	       COALESCE(terminal_reason,''), is_in_failure, total_retries,
	       emails_sent, emails_opened, emails_clicked, emails_bounced,
	       created_at, updated_at`

func scanLead(row interface{ Scan(...interface{}) error }) (*domain.Lead, error) {
	l := &domain.Lead{}
	var terminal string
	err := row.Scan(
		&l.ID, &l.Email, &l.Name, &l.Country, &l.City,
		&l.Timezone, &l.Status, &l.Score, pq.Array(&l.Tags), &l.FrozenUntil, &l.FollowupsPaused,
		pq.Array(&l.SkippedFollowups), &terminal, &l.TerminalStateAt,
		&l.TerminalReason, &l.IsInFailure, &l.TotalRetries,
		&l.EmailsSent, &l.EmailsOpened, &l.EmailsClicked, &l.EmailsBounced,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead: %w", err)
	}
	l.TerminalState = domain.TerminalState(terminal)
	return l, nil
}

func (s *LeadStore) Get(ctx context.Context, id string) (*domain.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

func (s *LeadStore) GetByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE LOWER(email) = LOWER($1)`, email))
}

func (s *LeadStore) Create(ctx context.Context, l *domain.Lead) (string, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = domain.LeadStatusIdle
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads
			(id, email, name, country, city, timezone, status, score, tags,
			 skipped_followups, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`, l.ID, l.Email, l.Name, l.Country, l.City, l.Timezone, l.Status, l.Score,
		pq.Array(l.Tags), pq.Array(l.SkippedFollowups))
	if err != nil {
		return "", fmt.Errorf("create lead: %w", err)
	}
	return l.ID, nil
}

// SetTimezone backfills a missing timezone; it never overwrites an existing
// one.
func (s *LeadStore) SetTimezone(ctx context.Context, id, tz string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET timezone = $1, updated_at = NOW()
		WHERE id = $2 AND (timezone IS NULL OR timezone = '')
	`, tz, id)
	if err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	return nil
}

// SetTerminal closes the lead permanently. Idempotent: a lead already in a
// terminal state keeps its original state and timestamp.
func (s *LeadStore) SetTerminal(ctx context.Context, id string, state domain.TerminalState, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET terminal_state = $1, terminal_state_at = NOW(), terminal_reason = $2,
		    updated_at = NOW()
		WHERE id = $3 AND (terminal_state IS NULL OR terminal_state = '')
	`, string(state), reason, id)
	if err != nil {
		return fmt.Errorf("set terminal state: %w", err)
	}
	return nil
}

// Resurrect reopens a dead lead. Only the dead terminal state is
// recoverable; unsubscribed and complaint stay closed for compliance.
func (s *LeadStore) Resurrect(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET terminal_state = '', terminal_state_at = NULL, terminal_reason = '',
		    is_in_failure = false, total_retries = 0, status = $1, updated_at = NOW()
		WHERE id = $2 AND terminal_state = $3
	`, domain.LeadStatusIdle, id, string(domain.TerminalDead))
	if err != nil {
		return fmt.Errorf("resurrect lead: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("lead %s is not dead: %w", id, ErrNotFound)
	}
	return nil
}

func (s *LeadStore) SetFrozenUntil(ctx context.Context, id string, until *time.Time) error {
	status := domain.LeadStatusFrozen
	if until == nil {
		status = domain.LeadStatusIdle
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET frozen_until = $1, status = $2, updated_at = NOW() WHERE id = $3
	`, until, status, id)
	if err != nil {
		return fmt.Errorf("set frozen until: %w", err)
	}
	return nil
}

func (s *LeadStore) SetConverted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2
	`, domain.LeadStatusConverted, id)
	if err != nil {
		return fmt.Errorf("set converted: %w", err)
	}
	return nil
}

func (s *LeadStore) SetFollowupsPaused(ctx context.Context, id string, paused bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET followups_paused = $1, updated_at = NOW() WHERE id = $2
	`, paused, id)
	if err != nil {
		return fmt.Errorf("set followups paused: %w", err)
	}
	return nil
}

func (s *LeadStore) SetInFailure(ctx context.Context, id string, inFailure bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET is_in_failure = $1, updated_at = NOW() WHERE id = $2
	`, inFailure, id)
	if err != nil {
		return fmt.Errorf("set in failure: %w", err)
	}
	return nil
}

// Counter names accepted by IncrementCounter.
const (
	CounterSent    = "emails_sent"
	CounterOpened  = "emails_opened"
	CounterClicked = "emails_clicked"
	CounterBounced = "emails_bounced"
	CounterRetries = "total_retries"
)

// IncrementCounter bumps one of the engagement counters. The column name is
// validated against the known set, never interpolated from input.
func (s *LeadStore) IncrementCounter(ctx context.Context, id, counter string) error {
	switch counter {
	case CounterSent, CounterOpened, CounterClicked, CounterBounced, CounterRetries:
	default:
		return fmt.Errorf("unknown lead counter %q", counter)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET `+counter+` = `+counter+` + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment %s: %w", counter, err)
	}
	return nil
}

// AdjustScore applies a rulebook score adjustment.
func (s *LeadStore) AdjustScore(ctx context.Context, id string, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET score = score + $1, updated_at = NOW() WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("adjust score: %w", err)
	}
	return nil
}
