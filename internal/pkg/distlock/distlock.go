// Package distlock serializes scheduling work across processes. The engine
// takes a per-lead lock before touching that lead's jobs so only one worker
// mutates a journey at a time. Redis is the preferred backend; PostgreSQL
// advisory locks cover deployments without Redis.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLeadTTL bounds how long a crashed worker can hold a lead hostage.
const DefaultLeadTTL = 30 * time.Second

// ErrNotAcquired is returned by WithLeadLock when another process holds the
// lead's lock. Callers treat it as "try again later", not as a failure.
var ErrNotAcquired = errors.New("distlock: lock held by another process")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// LeadKey is the canonical lock key for a lead's scheduling work.
func LeadKey(leadID string) string {
	return fmt.Sprintf("scheduler:lead:%s", leadID)
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// NewLeadLock creates the per-lead lock with the default TTL.
func NewLeadLock(redisClient *redis.Client, db *sql.DB, leadID string) DistLock {
	return NewLock(redisClient, db, LeadKey(leadID), DefaultLeadTTL)
}

type heldKeysCtxKey struct{}

func heldKeys(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	return held
}

func markHeld(ctx context.Context, key string) context.Context {
	held := map[string]struct{}{key: {}}
	for k := range heldKeys(ctx) {
		held[k] = struct{}{}
	}
	return context.WithValue(ctx, heldKeysCtxKey{}, held)
}

// WithLeadLock runs fn while holding the lead's lock. If the lock is held
// elsewhere it returns ErrNotAcquired without running fn. The lock is
// reentrant within one call chain: nested calls for a lead whose lock this
// context already holds run fn directly instead of failing.
func WithLeadLock(ctx context.Context, redisClient *redis.Client, db *sql.DB, leadID string, fn func(context.Context) error) error {
	key := LeadKey(leadID)
	if _, ok := heldKeys(ctx)[key]; ok {
		return fn(ctx)
	}

	lock := NewLeadLock(redisClient, db, leadID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lead lock: %w", err)
	}
	if !ok {
		return ErrNotAcquired
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn(markHeld(ctx, key))
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
