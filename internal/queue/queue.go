// Package queue is a Redis-backed delayed job queue. Each queue keeps a
// sorted set scored by ready-at time plus a hash per job payload. Claiming
// is a single Lua round trip so two workers can never pop the same job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmailSendQueue is the queue the claimer fills and the send pool drains.
const EmailSendQueue = "email-send-queue"

const (
	// MaxAttempts is how many times a job is redelivered before parking.
	MaxAttempts = 5
	// retryBase is the first redelivery delay; it doubles per attempt.
	retryBase = time.Minute
)

// ErrJobNotFound is returned when a job id is absent from the queue.
var ErrJobNotFound = errors.New("queue: job not found")

// Job is the queued payload. ID doubles as the idempotency key of the
// email job it carries, so re-adding the same job is a no-op overwrite.
type Job struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Priority int               `json:"priority"`
	Payload  map[string]string `json:"payload,omitempty"`
	ReadyAt  time.Time         `json:"ready_at"`
	Attempts int               `json:"attempts"`
	LastErr  string            `json:"last_error,omitempty"`
}

// Claim atomically pops due jobs: ZRANGEBYSCORE then ZREM inside one
// script. Ties break on priority encoded in the score's fractional part.
const claimLuaScript = `
local zkey = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

local ids = redis.call("ZRANGEBYSCORE", zkey, "-inf", now, "LIMIT", 0, limit)
if #ids > 0 then
    redis.call("ZREM", zkey, unpack(ids))
end
return ids
`

var claimScript = redis.NewScript(claimLuaScript)

// Queue is one named delayed queue.
type Queue struct {
	client *redis.Client
	name   string
}

// New returns a handle on the named queue.
func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

func (q *Queue) zsetKey() string         { return fmt.Sprintf("queue:%s:delayed", q.name) }
func (q *Queue) jobKey(id string) string { return fmt.Sprintf("queue:%s:job:%s", q.name, id) }

// score orders by ready time, with higher priority winning inside the same
// millisecond.
func score(readyAt time.Time, priority int) float64 {
	return float64(readyAt.UnixMilli()) - float64(priority)/1000.0
}

// Add schedules a job. Adding an existing id overwrites its payload and
// ready time, which is what reschedules want.
func (q *Queue) Add(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return errors.New("queue: job id required")
	}
	if job.ReadyAt.IsZero() {
		job.ReadyAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), data, 0)
	pipe.ZAdd(ctx, q.zsetKey(), redis.Z{Score: score(job.ReadyAt, job.Priority), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// Remove drops a job from the queue whether or not it is due yet.
func (q *Queue) Remove(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.zsetKey(), id)
	pipe.Del(ctx, q.jobKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// GetJob fetches a job payload without claiming it.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Claim pops up to limit due jobs. Claimed jobs are removed from the
// delayed set but their payload hash survives until Ack or Retry decides
// its fate.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	ids, err := claimScript.Run(ctx, q.client, []string{q.zsetKey()}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", q.name, err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue // removed between claim and fetch
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a finished job's payload.
func (q *Queue) Ack(ctx context.Context, id string) error {
	return q.client.Del(ctx, q.jobKey(id)).Err()
}

// Retry requeues a failed job with exponential backoff. After MaxAttempts
// the job is dropped and the caller gets false so it can park the work in
// the database instead.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (bool, error) {
	job.Attempts++
	if cause != nil {
		job.LastErr = cause.Error()
	}
	if job.Attempts >= MaxAttempts {
		if err := q.Remove(ctx, job.ID); err != nil {
			return false, err
		}
		return false, nil
	}
	job.ReadyAt = time.Now().UTC().Add(retryBase << (job.Attempts - 1))
	return true, q.Add(ctx, job)
}

// Len reports how many jobs are waiting, due or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.zsetKey()).Result()
}
