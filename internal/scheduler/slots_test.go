package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/ratelimit"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

func slotTestEngine(t *testing.T, now time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rules := rulebook.New()
	return NewEngine(Deps{
		Rules:   rules,
		Clock:   schedule.FixedClock{At: now},
		Limiter: ratelimit.NewLimiter(nil, db, rules),
	}), mock
}

func expectWindowCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestFindNextSlotFirstWindowHasCapacity(t *testing.T) {
	// Tuesday inside business hours, already window-aligned.
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	expectWindowCount(mock, 3)

	got, err := e.FindNextSlot(context.Background(), "UTC", now, domain.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, now, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNextSlotSkipsFullWindows(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	s := domain.DefaultSettings()

	expectWindowCount(mock, s.RateLimit.EmailsPerWindow) // 10:00 full
	expectWindowCount(mock, s.RateLimit.EmailsPerWindow) // 10:15 full
	expectWindowCount(mock, 2)                           // 10:30 open

	got, err := e.FindNextSlot(context.Background(), "UTC", now, s)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNextSlotRollsPastWeekend(t *testing.T) {
	// Friday 17:50: the next boundary is 18:00, past end-of-day, so the
	// search lands on Monday at the start hour.
	now := time.Date(2026, 3, 6, 17, 50, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	expectWindowCount(mock, 0)

	got, err := e.FindNextSlot(context.Background(), "UTC", now, domain.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), got)
}

func TestFindNextSlotHonorsPausedDates(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	s := domain.DefaultSettings()
	s.PausedDates = []string{"2026-03-03"}
	expectWindowCount(mock, 0)

	got, err := e.FindNextSlot(context.Background(), "UTC", now, s)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), got)
}

func TestFindNextSlotRespectsLeadTimezone(t *testing.T) {
	// 08:00 UTC is 09:00 in Berlin, so a Berlin lead can be scheduled
	// immediately while the probe clock is still "early" in UTC terms.
	now := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	expectWindowCount(mock, 0)

	got, err := e.FindNextSlot(context.Background(), "Europe/Berlin", now, domain.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestFindNextSlotExhaustsHorizon(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	e, mock := slotTestEngine(t, now)
	s := domain.DefaultSettings()

	for i := 0; i < maxSlotAttempts; i++ {
		expectWindowCount(mock, s.RateLimit.EmailsPerWindow)
	}

	_, err := e.FindNextSlot(context.Background(), "UTC", now, s)
	assert.ErrorIs(t, err, ErrNoSlot)
}
