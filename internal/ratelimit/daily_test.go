package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, now time.Time) (Limiter, *clock.FakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(now)
	limiter := NewDailyLimiter(client, clk, config.Config{BillingTimezone: "UTC"})
	return limiter, clk, mr
}

func TestCheckAndIncrementFreshWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter, _, _ := newTestLimiter(t, now)
	customerID := snowflake.ID(42)

	result, err := limiter.CheckAndIncrement(context.Background(), customerID, 100)
	require.NoError(t, err)

	assert.True(t, result.Allowed)
	assert.Equal(t, int64(100), result.Limit)
	assert.Equal(t, int64(99), result.Remaining)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), result.ResetAt.UTC())
}

func TestCheckAndIncrementCountsDown(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter, _, _ := newTestLimiter(t, now)
	customerID := snowflake.ID(7)

	var last *Result
	for i := 0; i < 5; i++ {
		result, err := limiter.CheckAndIncrement(context.Background(), customerID, 5)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		last = result
	}
	// The fifth admit saw a pre-increment count of 4.
	assert.Equal(t, int64(1), last.Remaining)

	denied, err := limiter.CheckAndIncrement(context.Background(), customerID, 5)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, int64(0), denied.Remaining)

	// The counter does not move past the quota.
	count, _, err := limiter.State(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestCheckAndIncrementMidWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter, _, mr := newTestLimiter(t, now)
	customerID := snowflake.ID(21)

	mr.HSet("rate:21", "count", "50", "resetAt", "2024-01-02T00:00:00Z")

	result, err := limiter.CheckAndIncrement(context.Background(), customerID, 100)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(50), result.Remaining)

	count, _, err := limiter.State(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(51), count)
}

func TestCheckAndIncrementResetsAtMidnight(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	limiter, clk, _ := newTestLimiter(t, now)
	customerID := snowflake.ID(9)

	for i := 0; i < 100; i++ {
		result, err := limiter.CheckAndIncrement(context.Background(), customerID, 100)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	denied, err := limiter.CheckAndIncrement(context.Background(), customerID, 100)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// 00:01 the next day: the window is fresh.
	clk.Set(time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC))

	result, err := limiter.CheckAndIncrement(context.Background(), customerID, 100)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(99), result.Remaining)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), result.ResetAt.UTC())
}

func TestZeroQuotaIsUnlimited(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter, _, mr := newTestLimiter(t, now)
	customerID := snowflake.ID(11)

	for i := 0; i < 3; i++ {
		result, err := limiter.CheckAndIncrement(context.Background(), customerID, 0)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Unlimited)
	}

	// Unlimited admission never touches the counter.
	assert.False(t, mr.Exists("rate:11"))
}

func TestStateReadsWithoutMutation(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter, _, _ := newTestLimiter(t, now)
	customerID := snowflake.ID(13)

	count, resetAt, err := limiter.State(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.True(t, resetAt.IsZero())

	_, err = limiter.CheckAndIncrement(context.Background(), customerID, 50)
	require.NoError(t, err)
	_, err = limiter.CheckAndIncrement(context.Background(), customerID, 50)
	require.NoError(t, err)

	count, resetAt, err = limiter.State(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), resetAt.UTC())
}
