package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

func newTestScheduleStore(t *testing.T) (*ScheduleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScheduleStore(db), mock
}

func TestReconcileKeepsNewestInitialJob(t *testing.T) {
	s, mock := newTestScheduleStore(t)

	oldAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	newAt := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	// ListForLead returns newest-first: the rescheduled successor precedes
	// its cancelled predecessor. The projection must carry the successor.
	jobs := []*domain.Job{
		{ID: "job-2", LeadID: "lead-1", Type: domain.InitialEmailType,
			Category: domain.CategoryInitial, Status: domain.JobPending, ScheduledFor: newAt},
		{ID: "job-1", LeadID: "lead-1", Type: domain.InitialEmailType,
			Category: domain.CategoryInitial, Status: domain.JobCancelled, ScheduledFor: oldAt},
	}

	mock.ExpectExec(`INSERT INTO email_schedules`).
		WithArgs("lead-1", newAt, string(domain.JobPending), newAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Reconcile(context.Background(), "lead-1", jobs))
	require.NoError(t, mock.ExpectationsWereMet())
}
