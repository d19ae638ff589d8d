package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// ConditionalStore persists conditional email rules.
type ConditionalStore struct{ db *sql.DB }

// NewConditionalStore creates a Postgres-backed rule store.
func NewConditionalStore(db *sql.DB) *ConditionalStore { return &ConditionalStore{db: db} }

const conditionalColumns = `id, name, trigger_event, COALESCE(trigger_step,''),
	       delay_hours, COALESCE(template_id,''), cancel_pending, priority, enabled, created_at`

func scanConditional(row interface{ Scan(...interface{}) error }) (*domain.ConditionalEmail, error) {
	c := &domain.ConditionalEmail{}
	err := row.Scan(&c.ID, &c.Name, &c.TriggerEvent, &c.TriggerStep,
		&c.DelayHours, &c.TemplateID, &c.CancelPending, &c.Priority, &c.Enabled, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conditional rule: %w", err)
	}
	return c, nil
}

// ListEnabledByTrigger returns enabled rules matching the trigger event and
// source step.
func (s *ConditionalStore) ListEnabledByTrigger(ctx context.Context, event domain.TriggerEvent, step string) ([]*domain.ConditionalEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conditionalColumns+` FROM conditional_emails
		WHERE enabled = true AND trigger_event = $1 AND trigger_step = $2
		ORDER BY priority DESC, name ASC`, string(event), step)
	if err != nil {
		return nil, fmt.Errorf("list conditional rules: %w", err)
	}
	defer rows.Close()
	var out []*domain.ConditionalEmail
	for rows.Next() {
		c, err := scanConditional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConditionalEmailByName looks up a rule by its name, used to recover a
// trigger event for display when job metadata predates the typed bag.
func (s *ConditionalStore) GetConditionalEmailByName(ctx context.Context, name string) (*domain.ConditionalEmail, error) {
	return scanConditional(s.db.QueryRowContext(ctx,
		`SELECT `+conditionalColumns+` FROM conditional_emails WHERE name = $1`, name))
}

// List returns all rules for the admin API.
func (s *ConditionalStore) List(ctx context.Context) ([]*domain.ConditionalEmail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conditionalColumns+` FROM conditional_emails ORDER BY priority DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list conditional rules: %w", err)
	}
	defer rows.Close()
	var out []*domain.ConditionalEmail
	for rows.Next() {
		c, err := scanConditional(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a rule.
func (s *ConditionalStore) Create(ctx context.Context, c *domain.ConditionalEmail) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conditional_emails
			(id, name, trigger_event, trigger_step, delay_hours, template_id,
			 cancel_pending, priority, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, c.ID, c.Name, string(c.TriggerEvent), c.TriggerStep, c.DelayHours, c.TemplateID,
		c.CancelPending, c.Priority, c.Enabled)
	if err != nil {
		return "", fmt.Errorf("create conditional rule: %w", err)
	}
	return c.ID, nil
}

// SetEnabled toggles a rule.
func (s *ConditionalStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conditional_emails SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("toggle conditional rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
