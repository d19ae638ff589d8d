// Package events ingests normalized provider events, deduplicates them, and
// routes them to handlers that mutate jobs and leads through the rulebook.
package events

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

// ErrDuplicateEvent marks an event already present in the store. Callers
// drop it silently.
var ErrDuplicateEvent = errors.New("duplicate event")

// Store is the append-only deduplicated event log. The unique constraint on
// (event_type, aggregate_id) is the durable idempotency line; the
// dispatcher's in-memory cache only absorbs webhook double-delivery bursts.
type Store struct{ db *sql.DB }

// NewStore creates the event store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Append persists an event. A second append of the same (type, aggregate)
// returns ErrDuplicateEvent.
func (s *Store) Append(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_store
			(id, event_type, aggregate_id, lead_id, email_job_id, data, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, uuid.New().String(), string(ev.Type), ev.AggregateID(), ev.LeadID, ev.EmailJobID,
		data, occurred)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Seen reports whether an event with this (type, aggregate) already exists,
// used by the provider poller to skip replays without attempting inserts.
func (s *Store) Seen(ctx context.Context, evType domain.EventType, aggregateID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM event_store WHERE event_type = $1 AND aggregate_id = $2
		)`, string(evType), aggregateID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("event seen check: %w", err)
	}
	return exists, nil
}

// RecentForLead returns the stored events for a lead within the window,
// newest first.
func (s *Store) RecentForLead(ctx context.Context, leadID string, since time.Time) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, lead_id, COALESCE(email_job_id,''), data, occurred_at
		FROM event_store
		WHERE lead_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC`, leadID, since)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var data []byte
		if err := rows.Scan(&ev.Type, &ev.LeadID, &ev.EmailJobID, &data, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &ev.Data)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
