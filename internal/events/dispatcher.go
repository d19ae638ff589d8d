package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

// cacheTTL is the in-process dedup window for webhook double deliveries.
const cacheTTL = 60 * time.Second

// Dispatcher routes normalized events through the store's dedup and into
// the handler table. Handler errors are logged, never propagated: a failing
// handler must not push the event back into the provider's retry loop.
type Dispatcher struct {
	store    *Store
	rules    *rulebook.Rulebook
	handlers *Handlers

	mu    sync.Mutex
	cache map[string]time.Time
	now   func() time.Time
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(store *Store, rules *rulebook.Rulebook, handlers *Handlers) *Dispatcher {
	return &Dispatcher{
		store:    store,
		rules:    rules,
		handlers: handlers,
		cache:    map[string]time.Time{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch ingests one event: in-memory dedup, durable dedup, then the
// handler for the event's category. Duplicates return nil.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	key := string(ev.Type) + ":" + ev.AggregateID()
	if d.recentlySeen(key) {
		logger.Debug("event deduplicated in memory", "event", string(ev.Type), "aggregate", ev.AggregateID())
		return nil
	}

	if err := d.store.Append(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			logger.Debug("event deduplicated in store", "event", string(ev.Type), "aggregate", ev.AggregateID())
			return nil
		}
		return err
	}
	d.remember(key)

	cat := d.rules.EventCategoryFor(ev.Type)
	var err error
	switch cat.Kind {
	case rulebook.KindSuccess:
		err = d.handlers.HandleSuccess(ctx, ev)
	case rulebook.KindAutoReschedule:
		err = d.handlers.HandleAutoReschedule(ctx, ev)
	case rulebook.KindFailed:
		err = d.handlers.HandleFailed(ctx, ev)
	case rulebook.KindSpam:
		err = d.handlers.HandleSpam(ctx, ev)
	default:
		logger.Warn("unknown event category", "event", string(ev.Type))
		return nil
	}
	if err != nil {
		logger.Error("event handler failed",
			"event", string(ev.Type), "lead_id", ev.LeadID, "job_id", ev.EmailJobID,
			"error", err.Error())
	}
	return nil
}

func (d *Dispatcher) recentlySeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	// Opportunistic sweep keeps the map bounded under webhook bursts.
	if len(d.cache) > 4096 {
		for k, at := range d.cache {
			if now.Sub(at) > cacheTTL {
				delete(d.cache, k)
			}
		}
	}
	at, ok := d.cache[key]
	return ok && now.Sub(at) < cacheTTL
}

func (d *Dispatcher) remember(key string) {
	d.mu.Lock()
	d.cache[key] = d.now()
	d.mu.Unlock()
}
