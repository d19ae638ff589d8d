package worker

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/events"
)

const (
	pollInterval = 15 * time.Minute
	pollLookback = 24 * time.Hour
)

// ProviderSource yields provider-side events for backfill, newest last.
// Implementations wrap a provider's reporting API.
type ProviderSource interface {
	FetchEvents(ctx context.Context, since time.Time) ([]domain.Event, error)
}

// Poller periodically backfills the last day of provider events through the
// same dedup path as webhooks, closing gaps from dropped deliveries. The
// Seen pre-check keeps replays from hammering the event store with
// conflicting inserts.
type Poller struct {
	db         *sql.DB
	source     ProviderSource
	store      *events.Store
	dispatcher *events.Dispatcher
	registry   *Registry

	totalFetched    int64
	totalDispatched int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewPoller wires a backfill poller.
func NewPoller(db *sql.DB, source ProviderSource, store *events.Store, dispatcher *events.Dispatcher) *Poller {
	return &Poller{
		db:         db,
		source:     source,
		store:      store,
		dispatcher: dispatcher,
		registry:   NewRegistry(db, "event_poller"),
	}
}

// Start begins the poll loop.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("[Poller] starting (interval=%s lookback=%s)", pollInterval, pollLookback)
	p.registry.Register(p.Stats)

	p.wg.Add(1)
	go p.loop()
}

// Stop ends the poll loop.
func (p *Poller) Stop() {
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
	log.Printf("[Poller] stopped. fetched=%d dispatched=%d",
		atomic.LoadInt64(&p.totalFetched), atomic.LoadInt64(&p.totalDispatched))
}

// Stats reports poll counters.
func (p *Poller) Stats() map[string]int64 {
	return map[string]int64{
		"total_fetched":    atomic.LoadInt64(&p.totalFetched),
		"total_dispatched": atomic.LoadInt64(&p.totalDispatched),
	}
}

func (p *Poller) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	p.pollOnce()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

func (p *Poller) pollOnce() {
	ctx, cancelTimeout := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancelTimeout()

	evs, err := p.source.FetchEvents(ctx, time.Now().UTC().Add(-pollLookback))
	if err != nil {
		log.Printf("[Poller] fetch failed: %v", err)
		return
	}
	atomic.AddInt64(&p.totalFetched, int64(len(evs)))

	dispatched := 0
	for _, ev := range evs {
		seen, err := p.store.Seen(ctx, ev.Type, ev.AggregateID())
		if err != nil {
			log.Printf("[Poller] seen check failed: %v", err)
			continue
		}
		if seen {
			continue
		}
		if err := p.dispatcher.Dispatch(ctx, ev); err != nil {
			log.Printf("[Poller] dispatch failed for %s/%s: %v", ev.Type, ev.AggregateID(), err)
			continue
		}
		dispatched++
	}
	atomic.AddInt64(&p.totalDispatched, int64(dispatched))
	if dispatched > 0 {
		log.Printf("[Poller] backfilled %d events (%d fetched)", dispatched, len(evs))
	}
}
