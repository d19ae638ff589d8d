package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, EmailSendQueue), mr
}

func TestAddAndClaimRespectsReadyTime(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Add(ctx, &Job{ID: "due", ReadyAt: now.Add(-time.Minute)}))
	require.NoError(t, q.Add(ctx, &Job{ID: "future", ReadyAt: now.Add(time.Hour)}))

	jobs, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "due", jobs[0].ID)

	// The future job stays queued.
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestClaimIsExclusive(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.Add(ctx, &Job{ID: "only", ReadyAt: now.Add(-time.Second)}))

	first, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, second, "a claimed job must not be claimable twice")
}

func TestClaimOrdersByPriorityWithinSameInstant(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, q.Add(ctx, &Job{ID: "followup", Priority: 70, ReadyAt: at}))
	require.NoError(t, q.Add(ctx, &Job{ID: "conditional", Priority: 100, ReadyAt: at}))
	require.NoError(t, q.Add(ctx, &Job{ID: "manual", Priority: 90, ReadyAt: at}))

	jobs, err := q.Claim(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "conditional", jobs[0].ID)
	assert.Equal(t, "manual", jobs[1].ID)
	assert.Equal(t, "followup", jobs[2].ID)
}

func TestAddOverwritesExistingJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.Add(ctx, &Job{ID: "j1", ReadyAt: now.Add(time.Hour)}))
	require.NoError(t, q.Add(ctx, &Job{ID: "j1", ReadyAt: now.Add(2 * time.Hour)}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	job, err := q.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(2*time.Hour), job.ReadyAt, time.Second)
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Add(ctx, &Job{ID: "gone", ReadyAt: time.Now().UTC()}))
	require.NoError(t, q.Remove(ctx, "gone"))

	_, err := q.GetJob(ctx, "gone")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetryBacksOffThenParks(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := &Job{ID: "flaky", ReadyAt: time.Now().UTC()}
	require.NoError(t, q.Add(ctx, job))

	cause := errors.New("smtp timeout")
	for i := 1; i < MaxAttempts; i++ {
		requeued, err := q.Retry(ctx, job, cause)
		require.NoError(t, err)
		assert.True(t, requeued, "attempt %d should requeue", i)
		assert.Equal(t, i, job.Attempts)
	}

	requeued, err := q.Retry(ctx, job, cause)
	require.NoError(t, err)
	assert.False(t, requeued, "attempt cap reached, job parks")

	_, err = q.GetJob(ctx, "flaky")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
