package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitSpecCapacity(t *testing.T) {
	assert.Equal(t, 180, LimitSpec{Limit: 200, Margin: 0.1}.Capacity())
	assert.Equal(t, 450, LimitSpec{Limit: 500, Margin: 0.1}.Capacity())
	assert.Equal(t, 1, LimitSpec{Limit: 1, Margin: 0.5}.Capacity())
	assert.Equal(t, 10, LimitSpec{Limit: 10}.Capacity())
}

func TestRateLimiterBurstThenRejects(t *testing.T) {
	// capacity 10, burst 5, refill 5 per hour
	rl := NewRateLimiter("test", map[Bucket]LimitSpec{
		BucketGeneral: {Limit: 10, Window: time.Hour},
	}, 10*time.Millisecond)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Acquire(ctx, BucketGeneral), "token %d", i)
	}

	err := rl.Acquire(ctx, BucketGeneral)
	assert.ErrorIs(t, err, ErrRateLimited)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "local_budget", e.Reason)
}

func TestRateLimiterWaitsWithinMaxWait(t *testing.T) {
	// capacity 4, burst 2, refill 2 per 100ms: one token every 50ms
	rl := NewRateLimiter("test", map[Bucket]LimitSpec{
		BucketGeneral: {Limit: 4, Window: 100 * time.Millisecond},
	}, time.Second)

	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, BucketGeneral))
	require.NoError(t, rl.Acquire(ctx, BucketGeneral))

	start := time.Now()
	require.NoError(t, rl.Acquire(ctx, BucketGeneral))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRateLimiterRespectsDeadline(t *testing.T) {
	rl := NewRateLimiter("test", map[Bucket]LimitSpec{
		BucketGeneral: {Limit: 2, Window: time.Minute},
	}, time.Minute)

	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, BucketGeneral))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := rl.Acquire(short, BucketGeneral)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, time.Since(start), 20*time.Millisecond, "rejects without sleeping")
}

func TestRateLimiterBucketsAreIndependent(t *testing.T) {
	rl := NewRateLimiter("test", map[Bucket]LimitSpec{
		BucketGeneral: {Limit: 2, Window: time.Hour},
		BucketOrder:   {Limit: 2, Window: time.Hour},
	}, 0)

	ctx := context.Background()
	require.NoError(t, rl.Acquire(ctx, BucketGeneral))
	assert.ErrorIs(t, rl.Acquire(ctx, BucketGeneral), ErrRateLimited)
	assert.NoError(t, rl.Acquire(ctx, BucketOrder))
}
