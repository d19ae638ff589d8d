package worker

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/events"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/queue"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
)

const (
	sendBatchSize    = 50
	sendPollInterval = time.Second
)

// FromIdentity is the envelope identity stamped on every outbound email.
type FromIdentity struct {
	Name    string
	Email   string
	ReplyTo string
}

// SendWorkerPool consumes the send queue, delivers through the Sender, and
// feeds the outcome back into the engine as sent/error events. It never
// mutates job rows beyond the queued guard; all state movement happens in
// the event handlers.
type SendWorkerPool struct {
	db         *sql.DB
	jobs       *postgres.JobStore
	leads      *postgres.LeadStore
	sendQueue  *queue.Queue
	dispatcher *events.Dispatcher
	sender     Sender
	from       FromIdentity
	registry   *Registry
	numWorkers int

	totalSent    int64
	totalFailed  int64
	totalSkipped int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewSendWorkerPool wires a pool of send workers.
func NewSendWorkerPool(
	db *sql.DB,
	jobs *postgres.JobStore,
	leads *postgres.LeadStore,
	sendQueue *queue.Queue,
	dispatcher *events.Dispatcher,
	sender Sender,
	from FromIdentity,
	numWorkers int,
) *SendWorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &SendWorkerPool{
		db:         db,
		jobs:       jobs,
		leads:      leads,
		sendQueue:  sendQueue,
		dispatcher: dispatcher,
		sender:     sender,
		from:       from,
		registry:   NewRegistry(db, "send_worker"),
		numWorkers: numWorkers,
	}
}

// Start launches the workers.
func (p *SendWorkerPool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[SendWorker] starting %d workers", p.numWorkers)
	p.registry.Register(p.Stats)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the workers and deregisters.
func (p *SendWorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.registry.Deregister()
	log.Printf("[SendWorker] stopped. sent=%d failed=%d skipped=%d",
		atomic.LoadInt64(&p.totalSent), atomic.LoadInt64(&p.totalFailed), atomic.LoadInt64(&p.totalSkipped))
}

// Stats reports send counters.
func (p *SendWorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":    atomic.LoadInt64(&p.totalSent),
		"total_failed":  atomic.LoadInt64(&p.totalFailed),
		"total_skipped": atomic.LoadInt64(&p.totalSkipped),
	}
}

func (p *SendWorkerPool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			claimed, err := p.sendQueue.Claim(p.ctx, time.Now().UTC(), sendBatchSize)
			if err != nil {
				log.Printf("[SendWorker %d] claim failed: %v", n, err)
				time.Sleep(sendPollInterval)
				continue
			}
			if len(claimed) == 0 {
				time.Sleep(sendPollInterval)
				continue
			}
			for _, qj := range claimed {
				if err := p.process(qj); err != nil {
					log.Printf("[SendWorker %d] job %s: %v", n, qj.ID, err)
				}
			}
		}
	}
}

// process delivers one queued job. Transport-level failures go back into
// the queue with backoff; provider rejections and exhausted retries become
// error events so the engine's failure path takes over.
func (p *SendWorkerPool) process(qj *queue.Job) error {
	ctx, cancelTimeout := context.WithTimeout(p.ctx, 30*time.Second)
	defer cancelTimeout()

	job, err := p.jobs.Get(ctx, qj.Payload["job_id"])
	if errors.Is(err, postgres.ErrNotFound) {
		atomic.AddInt64(&p.totalSkipped, 1)
		return p.sendQueue.Ack(ctx, qj.ID)
	}
	if err != nil {
		return err
	}
	if job.Status != domain.JobQueued {
		// Cancelled or paused between claim and delivery.
		atomic.AddInt64(&p.totalSkipped, 1)
		return p.sendQueue.Ack(ctx, qj.ID)
	}

	lead, err := p.leads.Get(ctx, job.LeadID)
	if err != nil {
		return err
	}
	if lead.IsTerminal() || lead.IsFrozen(time.Now().UTC()) {
		logger.Info("send skipped for closed lead",
			"job_id", job.ID, "lead_id", lead.ID, "terminal", string(lead.TerminalState))
		atomic.AddInt64(&p.totalSkipped, 1)
		if err := p.jobs.UpdateStatus(ctx, job.ID, domain.JobCancelled, "lead closed before send"); err != nil {
			return err
		}
		return p.sendQueue.Ack(ctx, qj.ID)
	}

	msg, err := p.buildMessage(ctx, job, lead)
	if err != nil {
		return p.failJob(ctx, qj, job, err)
	}

	result, err := p.sender.Send(ctx, msg)
	if err != nil {
		// Transport failure: the provider never saw the message, retry.
		requeued, rErr := p.sendQueue.Retry(ctx, qj, err)
		if rErr != nil {
			return rErr
		}
		if requeued {
			return nil
		}
		return p.failJob(ctx, qj, job, err)
	}
	if !result.Success {
		return p.failJob(ctx, qj, job, result.Error)
	}

	atomic.AddInt64(&p.totalSent, 1)
	if err := p.dispatcher.Dispatch(ctx, domain.Event{
		Type:       domain.EventSent,
		LeadID:     job.LeadID,
		EmailJobID: job.ID,
		Data:       domain.EventData{MessageID: result.MessageID},
		OccurredAt: result.SentAt,
	}); err != nil {
		log.Printf("[SendWorker] sent event dispatch failed for job %s: %v", job.ID, err)
	}
	return p.sendQueue.Ack(ctx, qj.ID)
}

// failJob turns a dead send into an error event and drops the queue entry.
func (p *SendWorkerPool) failJob(ctx context.Context, qj *queue.Job, job *domain.Job, cause error) error {
	atomic.AddInt64(&p.totalFailed, 1)
	reason := "send failed"
	if cause != nil {
		reason = cause.Error()
	}
	if err := p.dispatcher.Dispatch(ctx, domain.Event{
		Type:       domain.EventError,
		LeadID:     job.LeadID,
		EmailJobID: job.ID,
		Data:       domain.EventData{Reason: reason},
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[SendWorker] error event dispatch failed for job %s: %v", job.ID, err)
	}
	return p.sendQueue.Ack(ctx, qj.ID)
}

// buildMessage loads the job's template and substitutes lead fields. A job
// without a template gets a bare subject from its type so nothing silently
// sends empty.
func (p *SendWorkerPool) buildMessage(ctx context.Context, job *domain.Job, lead *domain.Lead) (*Message, error) {
	subject, htmlBody, textBody := job.Type, "", ""
	if job.TemplateID != nil && *job.TemplateID != "" {
		err := p.db.QueryRowContext(ctx, `
			SELECT subject, COALESCE(html_body, ''), COALESCE(text_body, '')
			FROM email_templates WHERE id = $1
		`, *job.TemplateID).Scan(&subject, &htmlBody, &textBody)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}

	return &Message{
		JobID:     job.ID,
		LeadID:    lead.ID,
		Email:     lead.Email,
		Name:      lead.Name,
		FromName:  p.from.Name,
		FromEmail: p.from.Email,
		ReplyTo:   p.from.ReplyTo,
		Subject:   substituteFields(subject, lead),
		HTMLBody:  substituteFields(htmlBody, lead),
		TextBody:  substituteFields(textBody, lead),
		EmailType: job.DisplayType(),
	}, nil
}

// substituteFields replaces the supported merge tags with lead fields.
func substituteFields(s string, lead *domain.Lead) string {
	if s == "" {
		return s
	}
	name := lead.Name
	if name == "" {
		name = "there"
	}
	s = strings.ReplaceAll(s, "{{name}}", name)
	s = strings.ReplaceAll(s, "{{email}}", lead.Email)
	return s
}
