package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const heartbeatInterval = 10 * time.Second

// Registry records a worker process in the workers table and keeps its
// heartbeat fresh. Stale heartbeats let operators spot wedged workers.
type Registry struct {
	db       *sql.DB
	workerID string
	kind     string

	mu      sync.Mutex
	stats   func() map[string]int64
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewRegistry creates a registry entry for a worker of the given kind.
func NewRegistry(db *sql.DB, kind string) *Registry {
	return &Registry{
		db:       db,
		workerID: fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8]),
		kind:     kind,
	}
}

// WorkerID returns the generated worker identity.
func (r *Registry) WorkerID() string { return r.workerID }

// Register inserts the worker row and starts the heartbeat loop. The stats
// callback is polled on every heartbeat; nil means no stats.
func (r *Registry) Register(stats func() map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	r.stats = stats

	hostname, _ := os.Hostname()
	r.db.Exec(`
		INSERT INTO workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = 'running',
			started_at = NOW(),
			last_heartbeat_at = NOW()
	`, r.workerID, r.kind, hostname)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopped = make(chan struct{})
	go r.heartbeatLoop(ctx)
}

// Deregister marks the worker stopped and ends the heartbeat loop.
func (r *Registry) Deregister() {
	r.mu.Lock()
	cancel, stopped := r.cancel, r.stopped
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	r.db.Exec(`UPDATE workers SET status = 'stopped', last_heartbeat_at = NOW() WHERE id = $1`, r.workerID)
}

func (r *Registry) heartbeatLoop(ctx context.Context) {
	defer close(r.stopped)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var metadata []byte
			if r.stats != nil {
				metadata, _ = json.Marshal(r.stats())
			}
			r.db.Exec(`
				UPDATE workers
				SET last_heartbeat_at = NOW(), metadata = $2
				WHERE id = $1
			`, r.workerID, string(metadata))
		}
	}
}
