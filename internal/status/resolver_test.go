package status

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/rulebook"
)

type staticSettings struct{ s *domain.Settings }

func (f staticSettings) Get(ctx context.Context) (*domain.Settings, error) { return f.s, nil }

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewResolver(db, rulebook.New(), staticSettings{domain.DefaultSettings()}, nil)
	r.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return r, mock
}

func leadRows(status string, frozenUntil *time.Time, terminal string) *sqlmock.Rows {
	var term interface{}
	if terminal != "" {
		term = terminal
	}
	return sqlmock.NewRows([]string{"status", "frozen_until", "terminal_state", "is_in_failure"}).
		AddRow(status, frozenUntil, term, false)
}

func leadRowsInFailure(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "frozen_until", "terminal_state", "is_in_failure"}).
		AddRow(status, nil, nil, true)
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "lead_id", "type", "category", "status",
		"scheduled_for", "sent_at", "retry_count", "metadata",
	})
}

func TestResolveTerminalStateWins(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("Followup 1:scheduled", nil, "unsubscribed"))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "unsubscribed", res.Status)
}

func TestResolveFrozenBeatsActiveJobs(t *testing.T) {
	r, mock := newTestResolver(t)
	until := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("Followup 1:scheduled", &until, ""))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusFrozen, res.Status)
}

func TestResolveEarliestActiveJob(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).
		WillReturnRows(jobRows().AddRow(
			"job-1", "lead-1", "Followup 1", "followup", "pending",
			time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), nil, 0, []byte(`{}`)))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Followup 1:scheduled", res.Status)
	require.NotNil(t, res.Job)
	assert.Equal(t, "job-1", res.Job.ID)
}

func TestResolveConditionalJobDisplaysTrigger(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).
		WillReturnRows(jobRows().AddRow(
			"job-2", "lead-1", "Thanks", "conditional", "pending",
			time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), nil, 0,
			[]byte(`{"trigger_event":"opened"}`)))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "condition opened:scheduled", res.Status)
}

func TestResolveRescheduledVisibleFromMetadata(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).
		WillReturnRows(jobRows().AddRow(
			"job-3", "lead-1", "Followup 2", "followup", "pending",
			time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC), nil, 1,
			[]byte(`{"rescheduled":true}`)))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Followup 2:rescheduled", res.Status)
}

func TestResolveSentJobWhenSequenceIncomplete(t *testing.T) {
	r, mock := newTestResolver(t)
	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).WillReturnRows(jobRows())
	mock.ExpectQuery(`ORDER BY sent_at DESC`).
		WillReturnRows(jobRows().AddRow(
			"job-4", "lead-1", domain.InitialEmailType, "initial", "delivered",
			sentAt, sentAt, 0, []byte(`{}`)))
	mock.ExpectQuery(`SELECT DISTINCT type`).
		WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow(domain.InitialEmailType))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Initial Email:sent", res.Status)
}

func TestResolveSequenceComplete(t *testing.T) {
	r, mock := newTestResolver(t)
	settings := domain.DefaultSettings()
	settings.Followups = []domain.FollowupStep{
		{Name: "Followup 1", Enabled: true, Order: 1},
		{Name: "Followup 2", Enabled: true, Order: 2},
	}
	r.settings = staticSettings{settings}

	sentAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).WillReturnRows(jobRows())
	mock.ExpectQuery(`ORDER BY sent_at DESC`).
		WillReturnRows(jobRows().AddRow(
			"job-5", "lead-1", "Followup 2", "followup", "opened",
			sentAt, sentAt, 0, []byte(`{}`)))
	mock.ExpectQuery(`SELECT DISTINCT type`).
		WillReturnRows(sqlmock.NewRows([]string{"type"}).
			AddRow(domain.InitialEmailType).
			AddRow("Followup 1").
			AddRow("Followup 2"))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusSequenceComplete, res.Status)
}

func TestResolveFailedJobWhenLeadInFailure(t *testing.T) {
	r, mock := newTestResolver(t)
	scheduledFor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRowsInFailure("idle"))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).WillReturnRows(jobRows())
	mock.ExpectQuery(`ORDER BY failed_at DESC`).
		WillReturnRows(jobRows().AddRow(
			"job-7", "lead-1", domain.InitialEmailType, "initial", "hard_bounce",
			scheduledFor, nil, 0, []byte(`{}`)))

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Initial Email:hard_bounce", res.Status)
	require.NotNil(t, res.Job)
	assert.Equal(t, "job-7", res.Job.ID)
}

func TestResolveIdleWithNoJobs(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).WillReturnRows(jobRows())
	mock.ExpectQuery(`ORDER BY sent_at DESC`).WillReturnRows(jobRows())

	res, err := r.Resolve(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LeadStatusIdle, res.Status)
}

func TestSyncAfterJobChangeWritesResolvedStatus(t *testing.T) {
	r, mock := newTestResolver(t)
	mock.ExpectQuery(`SELECT status, frozen_until, terminal_state, is_in_failure FROM leads`).
		WillReturnRows(leadRows("idle", nil, ""))
	mock.ExpectQuery(`ORDER BY scheduled_for ASC`).
		WillReturnRows(jobRows().AddRow(
			"job-6", "lead-1", domain.InitialEmailType, "initial", "pending",
			time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), nil, 0, []byte(`{}`)))
	mock.ExpectExec(`UPDATE leads SET status`).
		WithArgs("Initial Email:scheduled", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.SyncAfterJobChange(context.Background(), "lead-1", "test"))
	require.NoError(t, mock.ExpectationsWereMet())
}
