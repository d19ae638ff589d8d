package lead

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
)

type fakeRepo struct {
	byID    map[string]*domain.Lead
	byEmail map[string]*domain.Lead
	nextID  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: map[string]*domain.Lead{}, byEmail: map[string]*domain.Lead{}}
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*domain.Lead, error) {
	l, ok := f.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return l, nil
}

func (f *fakeRepo) GetByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	l, ok := f.byEmail[email]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return l, nil
}

func (f *fakeRepo) Create(ctx context.Context, l *domain.Lead) (string, error) {
	f.nextID++
	l.ID = string(rune('a' + f.nextID))
	f.byID[l.ID] = l
	f.byEmail[l.Email] = l
	return l.ID, nil
}

func (f *fakeRepo) SetFrozenUntil(ctx context.Context, id string, until *time.Time) error {
	f.byID[id].FrozenUntil = until
	return nil
}

func (f *fakeRepo) SetConverted(ctx context.Context, id string) error {
	f.byID[id].Status = domain.LeadStatusConverted
	return nil
}

func (f *fakeRepo) Resurrect(ctx context.Context, id string) error {
	l := f.byID[id]
	if l.TerminalState != domain.TerminalDead {
		return postgres.ErrNotFound
	}
	l.TerminalState = domain.TerminalNone
	l.Status = domain.LeadStatusIdle
	return nil
}

type fakeScheduler struct {
	scheduled []string
	cancelled []string
	synced    []string
}

func (f *fakeScheduler) ScheduleNextEmail(ctx context.Context, leadID string) error {
	f.scheduled = append(f.scheduled, leadID)
	return nil
}

func (f *fakeScheduler) CancelAllActive(ctx context.Context, leadID, exceptJobID, reason string) error {
	f.cancelled = append(f.cancelled, leadID)
	return nil
}

func (f *fakeScheduler) SyncLead(ctx context.Context, leadID, reason string) error {
	f.synced = append(f.synced, leadID)
	return nil
}

func TestImportSchedulesNewLeadsAndSkipsDuplicates(t *testing.T) {
	repo := newFakeRepo()
	sched := &fakeScheduler{}
	svc := NewService(repo, sched)

	repo.byEmail["known@example.com"] = &domain.Lead{ID: "x", Email: "known@example.com"}

	res, err := svc.Import(context.Background(), []ImportInput{
		{Email: "Fresh@Example.com", Country: "Germany"},
		{Email: "known@example.com"},
		{Email: "not-an-email"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Scheduled)
	assert.Len(t, res.Errors, 1)

	created, err := repo.GetByEmail(context.Background(), "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", created.Timezone, "timezone derived from country")
	assert.Len(t, sched.scheduled, 1)
}

func TestFreezeCancelsActiveWork(t *testing.T) {
	repo := newFakeRepo()
	sched := &fakeScheduler{}
	svc := NewService(repo, sched)
	repo.byID["l1"] = &domain.Lead{ID: "l1", Email: "a@b.com"}

	until := time.Now().UTC().Add(48 * time.Hour)
	require.NoError(t, svc.Freeze(context.Background(), "l1", until))

	assert.Equal(t, []string{"l1"}, sched.cancelled)
	require.NotNil(t, repo.byID["l1"].FrozenUntil)
	assert.True(t, repo.byID["l1"].FrozenUntil.Equal(until))
}

func TestFreezeRejectsPastTime(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeScheduler{})
	repo.byID["l1"] = &domain.Lead{ID: "l1", Email: "a@b.com"}

	err := svc.Freeze(context.Background(), "l1", time.Now().UTC().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidFreeze)
}

func TestUnfreezeRestartsSequence(t *testing.T) {
	repo := newFakeRepo()
	sched := &fakeScheduler{}
	svc := NewService(repo, sched)
	until := time.Now().UTC().Add(time.Hour)
	repo.byID["l1"] = &domain.Lead{ID: "l1", Email: "a@b.com", FrozenUntil: &until}

	require.NoError(t, svc.Unfreeze(context.Background(), "l1"))
	assert.Nil(t, repo.byID["l1"].FrozenUntil)
	assert.Equal(t, []string{"l1"}, sched.scheduled)
}

func TestResurrectOnlyFromDead(t *testing.T) {
	repo := newFakeRepo()
	sched := &fakeScheduler{}
	svc := NewService(repo, sched)

	repo.byID["dead"] = &domain.Lead{ID: "dead", TerminalState: domain.TerminalDead}
	repo.byID["unsub"] = &domain.Lead{ID: "unsub", TerminalState: domain.TerminalUnsubscribed}
	repo.byID["alive"] = &domain.Lead{ID: "alive"}

	require.NoError(t, svc.Resurrect(context.Background(), "dead"))
	assert.Equal(t, domain.TerminalNone, repo.byID["dead"].TerminalState)
	assert.Equal(t, []string{"dead"}, sched.scheduled)

	assert.ErrorIs(t, svc.Resurrect(context.Background(), "unsub"), ErrTerminal)
	assert.ErrorIs(t, svc.Resurrect(context.Background(), "alive"), ErrNotDead)
}

func TestConvertBlockedForTerminalLead(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeScheduler{})
	repo.byID["l1"] = &domain.Lead{ID: "l1", TerminalState: domain.TerminalComplaint}

	assert.ErrorIs(t, svc.Convert(context.Background(), "l1"), ErrTerminal)
}
