// Package ratelimit admits requests against a per-customer daily quota
// that resets at midnight in the deployment timezone.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/metergate/internal/clock"
	"github.com/smallbiznis/metergate/internal/config"
)

const keyRate = "rate:%s"

// The check-then-write sequence runs as one script so two concurrent
// requests cannot both observe count == quota-1. resetAt is stored as
// RFC3339 UTC, which orders lexically.
const dailyWindowScript = `
local quota = tonumber(ARGV[1])
local now = ARGV[2]
local nextReset = ARGV[3]

local reset = redis.call("HGET", KEYS[1], "resetAt")
if (not reset) or (now >= reset) then
  redis.call("HSET", KEYS[1], "count", 1, "resetAt", nextReset)
  return {1, 1, nextReset}
end

local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
if quota > 0 and count >= quota then
  return {0, count, reset}
end

count = redis.call("HINCRBY", KEYS[1], "count", 1)
return {1, count, reset}
`

// Result is the admission decision for one request.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// Unlimited is set when the tier quota is 0.
	Unlimited bool
}

type Limiter interface {
	// CheckAndIncrement admits or rejects one request for the customer.
	CheckAndIncrement(ctx context.Context, customerID snowflake.ID, quota int64) (*Result, error)
	// State reads the counter without mutating it.
	State(ctx context.Context, customerID snowflake.ID) (count int64, resetAt time.Time, err error)
}

type limiter struct {
	client *redis.Client
	script *redis.Script
	clock  clock.Clock
	loc    *time.Location
}

func NewDailyLimiter(client *redis.Client, clk clock.Clock, cfg config.Config) Limiter {
	return &limiter{
		client: client,
		script: redis.NewScript(dailyWindowScript),
		clock:  clk,
		loc:    cfg.Location(),
	}
}

func (l *limiter) CheckAndIncrement(ctx context.Context, customerID snowflake.ID, quota int64) (*Result, error) {
	now := l.clock.Now()

	// quota 0 is unlimited: admit without touching the counter.
	if quota <= 0 {
		return &Result{
			Allowed:   true,
			Unlimited: true,
			ResetAt:   nextMidnight(now, l.loc),
		}, nil
	}

	reset := nextMidnight(now, l.loc)
	res, err := l.script.Run(
		ctx,
		l.client,
		[]string{fmt.Sprintf(keyRate, customerID)},
		quota,
		now.UTC().Format(time.RFC3339),
		reset.UTC().Format(time.RFC3339),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) < 3 {
		return nil, errors.New("invalid rate limit script response")
	}

	allowed := castToInt(res[0]) == 1
	count := castToInt(res[1])
	storedReset, perr := time.Parse(time.RFC3339, castToString(res[2]))
	if perr != nil {
		storedReset = reset
	}

	// A fresh window reports quota-1; an incremented one reports
	// quota minus the pre-increment count.
	var remaining int64
	switch {
	case !allowed:
		remaining = 0
	case count <= 1:
		remaining = quota - 1
	default:
		remaining = quota - count + 1
	}
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   allowed,
		Limit:     quota,
		Remaining: remaining,
		ResetAt:   storedReset,
	}, nil
}

func (l *limiter) State(ctx context.Context, customerID snowflake.ID) (int64, time.Time, error) {
	fields, err := l.client.HGetAll(ctx, fmt.Sprintf(keyRate, customerID)).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(fields) == 0 {
		return 0, time.Time{}, nil
	}

	var count int64
	fmt.Sscanf(fields["count"], "%d", &count)
	resetAt, _ := time.Parse(time.RFC3339, fields["resetAt"])

	// A window that already elapsed reads as fresh.
	if !resetAt.After(l.clock.Now()) {
		return 0, time.Time{}, nil
	}
	return count, resetAt, nil
}

// nextMidnight returns tomorrow 00:00 in loc.
func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case string:
		var n int64
		fmt.Sscanf(val, "%d", &n)
		return n
	default:
		return 0
	}
}

func castToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
