package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewLimiter(client, db, rulebook.New()), mr, mock
}

func TestReserveSlotFastPath(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	settings := domain.DefaultSettings()
	settings.RateLimit.EmailsPerWindow = 3

	at := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.ReserveSlot(context.Background(), at, settings))
	}

	window := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	got, err := mr.Get(windowKey(window))
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestReserveSlotFullWindowVerifiesAgainstDB(t *testing.T) {
	limiter, mr, mock := newTestLimiter(t)
	settings := domain.DefaultSettings()
	settings.RateLimit.EmailsPerWindow = 2

	at := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)
	window := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	// Counter already at cap, but the DB only sees one in-progress job:
	// a release left the counter stale, so the slot is granted.
	mr.Set(windowKey(window), "2")
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, limiter.ReserveSlot(context.Background(), at, settings))
	require.NoError(t, mock.ExpectationsWereMet())

	got, err := mr.Get(windowKey(window))
	require.NoError(t, err)
	assert.Equal(t, "2", got, "counter should be healed to db count + 1")
}

func TestReserveSlotFullWindowError(t *testing.T) {
	limiter, mr, mock := newTestLimiter(t)
	settings := domain.DefaultSettings()
	settings.RateLimit.EmailsPerWindow = 2

	at := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)
	window := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mr.Set(windowKey(window), "2")
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	err := limiter.ReserveSlot(context.Background(), at, settings)
	var full *WindowFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, window, full.Window)
	assert.Equal(t, window.Add(15*time.Minute), full.NextWindow)
	assert.Equal(t, 2, full.Used)
}

func TestReserveSlotFailsClosedWhenBothBackendsDown(t *testing.T) {
	limiter, mr, mock := newTestLimiter(t)
	settings := domain.DefaultSettings()

	mr.Close()
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WillReturnError(errors.New("connection refused"))

	err := limiter.ReserveSlot(context.Background(), time.Now().UTC(), settings)
	require.Error(t, err)
	var full *WindowFullError
	assert.False(t, errors.As(err, &full), "infrastructure failure is not a full window")
}

func TestReleaseSlotDecrementsAndFloorsAtZero(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t)
	settings := domain.DefaultSettings()

	at := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)
	window := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mr.Set(windowKey(window), "1")

	limiter.ReleaseSlot(context.Background(), at, settings)
	got, err := mr.Get(windowKey(window))
	require.NoError(t, err)
	assert.Equal(t, "0", got)

	// A second release must not go negative.
	limiter.ReleaseSlot(context.Background(), at, settings)
	got, err = mr.Get(windowKey(window))
	require.NoError(t, err)
	assert.Equal(t, "0", got)
}

func TestGetSlotCapacity(t *testing.T) {
	limiter, _, mock := newTestLimiter(t)
	settings := domain.DefaultSettings()
	settings.RateLimit.EmailsPerWindow = 10

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	cap, err := limiter.GetSlotCapacity(context.Background(), time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC), settings)
	require.NoError(t, err)
	assert.Equal(t, 4, cap.Used)
	assert.Equal(t, 6, cap.Available)
}
