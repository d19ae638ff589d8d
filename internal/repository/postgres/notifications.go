package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// NotificationStore persists the user-visible notification stream.
type NotificationStore struct{ db *sql.DB }

// NewNotificationStore creates a Postgres-backed notification store.
func NewNotificationStore(db *sql.DB) *NotificationStore { return &NotificationStore{db: db} }

// Add appends a notification.
func (s *NotificationStore) Add(ctx context.Context, leadID, kind, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, lead_id, kind, message, read, created_at)
		VALUES ($1, $2, $3, $4, false, NOW())
	`, uuid.New().String(), leadID, kind, message)
	if err != nil {
		return fmt.Errorf("add notification: %w", err)
	}
	return nil
}

// ListUnread returns unread notifications, newest first.
func (s *NotificationStore) ListUnread(ctx context.Context, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, kind, message, read, created_at
		FROM notifications
		WHERE read = false
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*domain.Notification
	for rows.Next() {
		n := &domain.Notification{}
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead marks one notification read.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HistoryStore appends to and reads the per-lead event history.
type HistoryStore struct{ db *sql.DB }

// NewHistoryStore creates a Postgres-backed history store.
func NewHistoryStore(db *sql.DB) *HistoryStore { return &HistoryStore{db: db} }

// Append records one history entry.
func (s *HistoryStore) Append(ctx context.Context, e *domain.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_history (id, lead_id, event, email_type, email_job_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, e.ID, e.LeadID, e.Event, e.EmailType, e.EmailJobID, e.Details)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListForLead returns a lead's history, newest first.
func (s *HistoryStore) ListForLead(ctx context.Context, leadID string, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, event, COALESCE(email_type,''), COALESCE(email_job_id,''),
		       COALESCE(details,''), timestamp
		FROM event_history
		WHERE lead_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []*domain.HistoryEntry
	for rows.Next() {
		e := &domain.HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Event, &e.EmailType, &e.EmailJobID, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
