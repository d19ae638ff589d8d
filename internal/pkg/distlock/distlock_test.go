package distlock

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestWithLeadLockRunsAndReleases(t *testing.T) {
	client, mr := newTestClient(t)

	ran := false
	err := WithLeadLock(context.Background(), client, nil, "lead-1", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:"+LeadKey("lead-1")))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:"+LeadKey("lead-1")))
}

func TestWithLeadLockYieldsWhenHeldElsewhere(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, mr.Set("lock:"+LeadKey("lead-1"), "someone-else"))

	err := WithLeadLock(context.Background(), client, nil, "lead-1", func(ctx context.Context) error {
		t.Fatal("fn must not run while the lock is held elsewhere")
		return nil
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestWithLeadLockIsReentrantWithinOneCallChain(t *testing.T) {
	client, _ := newTestClient(t)

	inner := false
	err := WithLeadLock(context.Background(), client, nil, "lead-1", func(ctx context.Context) error {
		return WithLeadLock(ctx, client, nil, "lead-1", func(ctx context.Context) error {
			inner = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, inner)
}

func TestWithLeadLockReentrancyIsPerLead(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, mr.Set("lock:"+LeadKey("lead-2"), "someone-else"))

	err := WithLeadLock(context.Background(), client, nil, "lead-1", func(ctx context.Context) error {
		// Holding lead-1 grants nothing for lead-2.
		return WithLeadLock(ctx, client, nil, "lead-2", func(ctx context.Context) error {
			t.Fatal("fn must not run for a different held lead")
			return nil
		})
	})
	assert.True(t, errors.Is(err, ErrNotAcquired))
}

func TestWithLeadLockHoldsAcrossNestedRelease(t *testing.T) {
	client, mr := newTestClient(t)

	err := WithLeadLock(context.Background(), client, nil, "lead-1", func(ctx context.Context) error {
		if err := WithLeadLock(ctx, client, nil, "lead-1", func(ctx context.Context) error { return nil }); err != nil {
			return err
		}
		// The nested call must not have released the outer hold.
		assert.True(t, mr.Exists("lock:"+LeadKey("lead-1")))
		return nil
	})
	require.NoError(t, err)
}
