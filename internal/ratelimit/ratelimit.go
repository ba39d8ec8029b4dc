// Package ratelimit bounds outbound send throughput. Two independent
// limiters share a Redis backend: a global token bucket capping aggregate
// worker throughput, and a per-tenant fixed window capping sends per tenant
// per hour. Both use atomic Lua scripts so concurrent workers never
// read-then-write, and both fail open on Redis transport errors (a wasted
// send is preferable to a stalled pipeline).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapliy/notification-hub/internal/metrics"
	"github.com/sapliy/notification-hub/pkg/observability"
)

// ExceededError reports limiter exhaustion. It is always retryable; the
// worker schedules a backoff rather than failing the job.
type ExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter)
}

var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local tokens = tonumber(redis.call('GET', tokens_key) or capacity)
local last = tonumber(redis.call('GET', ts_key) or now_ms)

local refill = (now_ms - last) * capacity / window_ms
tokens = math.min(capacity, tokens + refill)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
	allowed = 1
	tokens = tokens - 1
else
	wait_ms = math.ceil((1 - tokens) * window_ms / capacity)
end

redis.call('SET', tokens_key, tokens, 'PX', window_ms * 2)
redis.call('SET', ts_key, now_ms, 'PX', window_ms * 2)
return {allowed, wait_ms}
`)

var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then redis.call('PEXPIRE', KEYS[1], ARGV[1]) end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// GlobalLimiter is a worker-wide token bucket: Points tokens refilled evenly
// over Duration.
type GlobalLimiter struct {
	rdb      redis.UniversalClient
	points   int
	duration time.Duration
	logger   *observability.Logger
}

func NewGlobalLimiter(rdb redis.UniversalClient, points int, duration time.Duration, logger *observability.Logger) *GlobalLimiter {
	return &GlobalLimiter{rdb: rdb, points: points, duration: duration, logger: logger}
}

// Take consumes one token, returning *ExceededError when the bucket is empty.
func (l *GlobalLimiter) Take(ctx context.Context) error {
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{"rl:global:tokens", "rl:global:ts"},
		l.points, l.duration.Milliseconds(), time.Now().UnixMilli(),
	).Result()
	if err != nil {
		l.logger.Warn("global rate limiter unavailable, failing open", "error", err)
		return nil
	}

	allowed, waitMs := parsePair(res)
	if allowed {
		return nil
	}
	metrics.RateLimitRejections.WithLabelValues("global").Inc()
	return &ExceededError{Scope: "global", RetryAfter: time.Duration(waitMs) * time.Millisecond}
}

// TenantLimiter is a per-tenant fixed window counter. Keys are created
// lazily on a tenant's first send and expire with the window.
type TenantLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	logger *observability.Logger
}

func NewTenantLimiter(rdb redis.UniversalClient, limit int, window time.Duration, logger *observability.Logger) *TenantLimiter {
	return &TenantLimiter{rdb: rdb, limit: limit, window: window, logger: logger}
}

// Take consumes one unit of the tenant's quota.
func (l *TenantLimiter) Take(ctx context.Context, tenantID string) error {
	res, err := fixedWindowScript.Run(ctx, l.rdb,
		[]string{"rl:tenant:" + tenantID},
		l.window.Milliseconds(),
	).Result()
	if err != nil {
		l.logger.Warn("tenant rate limiter unavailable, failing open", "tenant_id", tenantID, "error", err)
		return nil
	}

	current, ttlMs := parseInts(res)
	if current <= int64(l.limit) {
		return nil
	}
	metrics.RateLimitRejections.WithLabelValues("tenant").Inc()
	retryAfter := time.Duration(ttlMs) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &ExceededError{Scope: "tenant:" + tenantID, RetryAfter: retryAfter}
}

func parsePair(res any) (allowed bool, waitMs int64) {
	first, second := parseInts(res)
	return first == 1, second
}

func parseInts(res any) (int64, int64) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return 0, 0
	}
	return toInt64(arr[0]), toInt64(arr[1])
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
