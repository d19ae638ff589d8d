package events

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
	"github.com/crewviateam/lead-flow-server-sub000/internal/scheduler"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rules := rulebook.New()
	// No redis client: the lead lock falls back to PG advisory locks, which
	// sqlmock can observe.
	engine := scheduler.NewEngine(scheduler.Deps{DB: db, Rules: rules})
	handlers := NewHandlers(engine, rules,
		postgres.NewLeadStore(db), postgres.NewJobStore(db),
		postgres.NewSettingsStore(db), postgres.NewNotificationStore(db),
		schedule.FixedClock{At: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)})
	return NewDispatcher(NewStore(db), rules, handlers), mock, db
}

func expectLeadLock(mock sqlmock.Sqlmock, acquired bool) {
	mock.ExpectQuery(`pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(acquired))
}

func expectLeadUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`pg_advisory_unlock`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestDispatchStoresOnceThenDedupsInMemory(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	ev := domain.Event{Type: domain.EventDelivered, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectLeadLock(mock, true)
	// The handler's job lookup finds nothing: a stale event ends quietly.
	mock.ExpectQuery(`FROM email_jobs`).WillReturnError(sql.ErrNoRows)
	expectLeadUnlock(mock)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())

	// Second delivery of the same (type, aggregate) never reaches the store.
	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchDurableDedupOnUniqueViolation(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	ev := domain.Event{Type: domain.EventOpened, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).
		WillReturnError(&pq.Error{Code: "23505"})

	// Another instance already handled this event; the duplicate is dropped
	// without touching any handler.
	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchMemoryDedupExpiresAfterTTL(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	base := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }

	ev := domain.Event{Type: domain.EventDelivered, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectLeadLock(mock, true)
	mock.ExpectQuery(`FROM email_jobs`).WillReturnError(sql.ErrNoRows)
	expectLeadUnlock(mock)
	require.NoError(t, d.Dispatch(context.Background(), ev))

	// Past the cache TTL the store is consulted again and reasserts the
	// durable dedup line.
	now = base.Add(cacheTTL + time.Second)
	mock.ExpectExec(`INSERT INTO event_store`).WillReturnError(&pq.Error{Code: "23505"})
	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchSwallowsHandlerErrors(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	ev := domain.Event{Type: domain.EventDelivered, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	expectLeadLock(mock, true)
	mock.ExpectQuery(`FROM email_jobs`).WillReturnError(errors.New("db down"))
	expectLeadUnlock(mock)

	// A failing handler must not bounce the webhook back into the
	// provider's retry loop.
	assert.NoError(t, d.Dispatch(context.Background(), ev))
}

func TestDispatchYieldsWhenLeadLockHeld(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	ev := domain.Event{Type: domain.EventDelivered, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).WillReturnResult(sqlmock.NewResult(0, 1))
	// Another process holds the lead: the handler body must not run, so no
	// further SQL is issued.
	expectLeadLock(mock, false)

	require.NoError(t, d.Dispatch(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchPropagatesStoreFailures(t *testing.T) {
	d, mock, _ := newTestDispatcher(t)
	ev := domain.Event{Type: domain.EventClicked, LeadID: "lead-1", EmailJobID: "job-1"}

	mock.ExpectExec(`INSERT INTO event_store`).WillReturnError(errors.New("disk full"))

	assert.Error(t, d.Dispatch(context.Background(), ev))
}

func TestStoreSeen(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("delivered", "job-9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err := store.Seen(context.Background(), domain.EventDelivered, "job-9")
	require.NoError(t, err)
	assert.True(t, seen)
}
