package worker

import (
	"context"
	"database/sql"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/queue"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

const (
	claimBatchSize    = 500
	claimPollInterval = 5 * time.Second
)

// Claimer moves due email jobs from the database into the send queue. The
// pending->queued transition is conditional, so two claimer instances can
// race on the same batch and each job is still enqueued exactly once.
type Claimer struct {
	db        *sql.DB
	jobs      *postgres.JobStore
	rules     *rulebook.Rulebook
	sendQueue *queue.Queue
	registry  *Registry

	totalClaimed int64
	totalLost    int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewClaimer wires a claimer.
func NewClaimer(db *sql.DB, jobs *postgres.JobStore, rules *rulebook.Rulebook, sendQueue *queue.Queue) *Claimer {
	return &Claimer{
		db:        db,
		jobs:      jobs,
		rules:     rules,
		sendQueue: sendQueue,
		registry:  NewRegistry(db, "job_claimer"),
	}
}

// Start begins the claim loop.
func (c *Claimer) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	log.Printf("[Claimer] starting (batch_size=%d poll=%s)", claimBatchSize, claimPollInterval)
	c.registry.Register(c.Stats)

	c.wg.Add(1)
	go c.loop()
}

// Stop ends the claim loop and waits for the current batch.
func (c *Claimer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.registry.Deregister()
	log.Printf("[Claimer] stopped. claimed=%d lost_races=%d",
		atomic.LoadInt64(&c.totalClaimed), atomic.LoadInt64(&c.totalLost))
}

// Stats reports claim counters.
func (c *Claimer) Stats() map[string]int64 {
	return map[string]int64{
		"total_claimed": atomic.LoadInt64(&c.totalClaimed),
		"lost_races":    atomic.LoadInt64(&c.totalLost),
	}
}

func (c *Claimer) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			n, err := c.claimOnce()
			if err != nil {
				log.Printf("[Claimer] claim pass failed: %v", err)
				time.Sleep(claimPollInterval)
				continue
			}
			if n == 0 {
				time.Sleep(claimPollInterval)
			}
		}
	}
}

// claimOnce claims one batch of due jobs and enqueues them.
func (c *Claimer) claimOnce() (int, error) {
	ctx, cancelTimeout := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancelTimeout()

	due, err := c.jobs.ListDue(ctx, time.Now().UTC(), claimBatchSize)
	if err != nil {
		return 0, err
	}

	claimed := 0
	for _, job := range due {
		won, err := c.jobs.Transition(ctx, job.ID, domain.JobPending, domain.JobQueued)
		if err != nil {
			log.Printf("[Claimer] transition failed for job %s: %v", job.ID, err)
			continue
		}
		if !won {
			atomic.AddInt64(&c.totalLost, 1)
			continue
		}

		err = c.sendQueue.Add(ctx, &queue.Job{
			ID:       job.IdempotencyKey,
			Kind:     string(job.Category),
			Priority: c.rules.Priority(job.Category),
			Payload: map[string]string{
				"job_id":      job.ID,
				"lead_id":     job.LeadID,
				"email_type":  job.Type,
				"retry_count": strconv.Itoa(job.RetryCount),
			},
			ReadyAt: time.Now().UTC(),
		})
		if err != nil {
			// Roll the job back so the next pass retries the enqueue.
			if _, rbErr := c.jobs.Transition(ctx, job.ID, domain.JobQueued, domain.JobPending); rbErr != nil {
				log.Printf("[Claimer] rollback failed for job %s: %v", job.ID, rbErr)
			}
			log.Printf("[Claimer] enqueue failed for job %s: %v", job.ID, err)
			continue
		}
		claimed++
		atomic.AddInt64(&c.totalClaimed, 1)
	}
	return claimed, nil
}
