// Package api is the HTTP surface of the engine: the provider webhook
// receiver and the narrow admin API that drives leads, jobs, and settings.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/httputil"
	"github.com/crewviateam/lead-flow-server-sub000/internal/ratelimit"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/scheduler"
	"github.com/crewviateam/lead-flow-server-sub000/internal/service/lead"
	"github.com/crewviateam/lead-flow-server-sub000/internal/worker"
)

// Handlers bundles the API's dependencies.
type Handlers struct {
	db            *sql.DB
	leadSvc       *lead.Service
	engine        *scheduler.Engine
	limiter       *ratelimit.Limiter
	jobs          *postgres.JobStore
	schedules     *postgres.ScheduleStore
	settings      *postgres.SettingsStore
	notifications *postgres.NotificationStore
	history       *postgres.HistoryStore
	webhook       *worker.WebhookReceiver
	startedAt     time.Time
}

// NewHandlers wires the API handlers.
func NewHandlers(
	db *sql.DB,
	leadSvc *lead.Service,
	engine *scheduler.Engine,
	limiter *ratelimit.Limiter,
	jobs *postgres.JobStore,
	schedules *postgres.ScheduleStore,
	settings *postgres.SettingsStore,
	notifications *postgres.NotificationStore,
	history *postgres.HistoryStore,
	webhook *worker.WebhookReceiver,
) *Handlers {
	return &Handlers{
		db:            db,
		leadSvc:       leadSvc,
		engine:        engine,
		limiter:       limiter,
		jobs:          jobs,
		schedules:     schedules,
		settings:      settings,
		notifications: notifications,
		history:       history,
		webhook:       webhook,
		startedAt:     time.Now().UTC(),
	}
}

// HealthCheck reports liveness plus database reachability.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.db.PingContext(r.Context()); err != nil {
		status = "degraded"
	}
	httputil.OK(w, map[string]any{
		"status": status,
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}
