// Package ratelimit enforces the global emails-per-window cap. Redis holds
// the fast-path counter; the database recount is ground truth and heals the
// counter when released or failed slots leave it stale. When both backends
// are unreachable the limiter denies the slot rather than oversending.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

// Lua script for atomic check-and-increment. Checks the cap BEFORE
// incrementing so a denied reservation never inflates the counter.
const reserveLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

const releaseLuaScript = `
local key = KEYS[1]
local current = tonumber(redis.call("GET", key) or "0")
if current <= 0 then
    return 0
end
return redis.call("DECRBY", key, 1)
`

var (
	reserveScript = redis.NewScript(reserveLuaScript)
	releaseScript = redis.NewScript(releaseLuaScript)
)

// WindowFullError reports a full window together with the earliest moment a
// caller may try again.
type WindowFullError struct {
	Window     time.Time
	Used       int
	Max        int
	NextWindow time.Time
}

func (e *WindowFullError) Error() string {
	return fmt.Sprintf("rate window %s full (%d/%d), next window %s",
		e.Window.Format(time.RFC3339), e.Used, e.Max, e.NextWindow.Format(time.RFC3339))
}

// Capacity describes one window's occupancy.
type Capacity struct {
	Window    time.Time `json:"window"`
	Used      int       `json:"used"`
	Max       int       `json:"max"`
	Available int       `json:"available"`
}

// Limiter reserves and releases send slots within fixed windows.
type Limiter struct {
	redis *redis.Client
	db    *sql.DB
	rules *rulebook.Rulebook
}

// NewLimiter creates a limiter. A nil Redis client degrades to DB-only
// counting, which is correct but slower.
func NewLimiter(redisClient *redis.Client, db *sql.DB, rules *rulebook.Rulebook) *Limiter {
	return &Limiter{redis: redisClient, db: db, rules: rules}
}

func windowKey(window time.Time) string {
	return fmt.Sprintf("ratelimit:global:%d", window.UnixMilli())
}

// ReserveSlot claims one send slot in the window containing at. On a full
// window it returns *WindowFullError. The Redis counter is advisory; a
// Redis denial is double-checked against the database because released
// slots can leave the counter high.
func (l *Limiter) ReserveSlot(ctx context.Context, at time.Time, s *domain.Settings) error {
	window := schedule.WindowStart(at, s.RateLimit.WindowMinutes)
	max := s.RateLimit.EmailsPerWindow
	ttl := int(2 * s.RateLimit.Window() / time.Second)
	next := window.Add(s.RateLimit.Window())

	if l.redis != nil {
		result, err := reserveScript.Run(ctx, l.redis, []string{windowKey(window)}, 1, max, ttl).Slice()
		if err == nil {
			if result[0].(int64) == 1 {
				return nil
			}
			// Counter says full; the DB decides.
			return l.reserveFromDB(ctx, window, s, next, true)
		}
		log.Printf("[RateLimiter] redis reserve error, falling back to db: %v", err)
	}
	return l.reserveFromDB(ctx, window, s, next, false)
}

// reserveFromDB recounts in-progress jobs in the window. When syncRedis is
// set and a slot is granted, the counter is rewritten so the fast path
// recovers.
func (l *Limiter) reserveFromDB(ctx context.Context, window time.Time, s *domain.Settings, next time.Time, syncRedis bool) error {
	max := s.RateLimit.EmailsPerWindow
	count, err := l.countInWindow(ctx, window, s.RateLimit.Window())
	if err != nil {
		// Fail closed: an unknown count must not become an oversend.
		return fmt.Errorf("rate limit recount failed: %w", err)
	}
	if count >= max {
		if l.redis != nil {
			l.redis.Set(ctx, windowKey(window), count, 2*next.Sub(window))
		}
		return &WindowFullError{Window: window, Used: count, Max: max, NextWindow: next}
	}
	if syncRedis && l.redis != nil {
		l.redis.Set(ctx, windowKey(window), count+1, 2*next.Sub(window))
	}
	return nil
}

// ReleaseSlot returns a previously reserved slot, used when job creation
// fails after the reservation succeeded.
func (l *Limiter) ReleaseSlot(ctx context.Context, at time.Time, s *domain.Settings) {
	if l.redis == nil {
		return
	}
	window := schedule.WindowStart(at, s.RateLimit.WindowMinutes)
	if _, err := releaseScript.Run(ctx, l.redis, []string{windowKey(window)}).Result(); err != nil {
		log.Printf("[RateLimiter] release error for window %s: %v", window.Format(time.RFC3339), err)
	}
}

// GetSlotCapacity reports the window occupancy from the database.
func (l *Limiter) GetSlotCapacity(ctx context.Context, at time.Time, s *domain.Settings) (*Capacity, error) {
	window := schedule.WindowStart(at, s.RateLimit.WindowMinutes)
	count, err := l.countInWindow(ctx, window, s.RateLimit.Window())
	if err != nil {
		return nil, err
	}
	max := s.RateLimit.EmailsPerWindow
	avail := max - count
	if avail < 0 {
		avail = 0
	}
	return &Capacity{Window: window, Used: count, Max: max, Available: avail}, nil
}

// countInWindow counts jobs that hold a slot in [window, window+size):
// everything still awaiting delivery plus already sent in that window.
func (l *Limiter) countInWindow(ctx context.Context, window time.Time, size time.Duration) (int, error) {
	statuses := rulebook.StatusStrings(l.rules.InProgressStatuses())
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM email_jobs
		WHERE scheduled_for >= $1 AND scheduled_for < $2
		  AND status = ANY($3)`,
		window, window.Add(size), pq.Array(statuses),
	).Scan(&count)
	return count, err
}
