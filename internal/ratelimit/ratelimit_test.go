package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapliy/notification-hub/pkg/observability"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestGlobalLimiterExhaustsTokens(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewGlobalLimiter(rdb, 2, time.Minute, observability.NewLogger("test"))
	ctx := context.Background()

	require.NoError(t, l.Take(ctx))
	require.NoError(t, l.Take(ctx))

	err := l.Take(ctx)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "global", exceeded.Scope)
	assert.Greater(t, exceeded.RetryAfter, time.Duration(0))
}

func TestGlobalLimiterFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewGlobalLimiter(rdb, 1, time.Minute, observability.NewLogger("test"))

	mr.Close()
	assert.NoError(t, l.Take(context.Background()))
}

func TestTenantLimiterWindow(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewTenantLimiter(rdb, 2, time.Hour, observability.NewLogger("test"))
	ctx := context.Background()

	require.NoError(t, l.Take(ctx, "t1"))
	require.NoError(t, l.Take(ctx, "t1"))

	err := l.Take(ctx, "t1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "tenant:t1", exceeded.Scope)

	// quotas are independent per tenant
	assert.NoError(t, l.Take(ctx, "t2"))
}

func TestTenantLimiterWindowExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewTenantLimiter(rdb, 1, time.Hour, observability.NewLogger("test"))
	ctx := context.Background()

	require.NoError(t, l.Take(ctx, "t1"))
	require.Error(t, l.Take(ctx, "t1"))

	mr.FastForward(time.Hour + time.Second)
	assert.NoError(t, l.Take(ctx, "t1"))
}

func TestTenantLimiterFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewTenantLimiter(rdb, 1, time.Hour, observability.NewLogger("test"))

	mr.Close()
	assert.NoError(t, l.Take(context.Background(), "t1"))
}
