package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:upload:"

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

// UploadLimiter is a Redis token bucket shared by every API replica, keyed by
// client so one noisy uploader cannot starve the import queue.
type UploadLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	now      func() time.Time
}

func NewUploadLimiter(client *redis.Client, capacity int, refillPerSecond float64) *UploadLimiter {
	ttl := time.Hour
	if refillPerSecond > 0 {
		// Long enough for an idle bucket to refill completely.
		ttl = time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Minute
	}
	return &UploadLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Allow takes one token from the client's bucket if one is available.
func (l *UploadLimiter) Allow(ctx context.Context, clientKey string) (Decision, error) {
	if clientKey == "" {
		clientKey = "anonymous"
	}
	res, err := bucketScript.Run(ctx, l.client, []string{keyPrefix + clientKey},
		l.capacity, l.refill, l.now().UnixMilli(), l.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	allowed, _ := arr[0].(int64)
	d := Decision{Allowed: allowed == 1, Remaining: toFloat(arr[1])}
	if !d.Allowed && l.refill > 0 {
		missing := 1 - d.Remaining
		d.RetryAfter = time.Duration(math.Ceil(missing/l.refill*1000)) * time.Millisecond
	}
	return d, nil
}

// Lua numbers come back truncated to integers, so tokens are returned as a
// string to keep the fraction.
func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case string:
		var f float64
		_, _ = fmt.Sscan(t, &f)
		return f
	default:
		return 0
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
