package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	_, client := newClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()
	limits := Bucket{Rate: 0.01, Burst: 2}

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "bucket:test", limits)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i)
		assert.Equal(t, 2, res.Limit)
	}

	res, err := bucket.Allow(ctx, "bucket:test", limits)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	// One token at 0.01/s takes up to 100s to refill.
	assert.Greater(t, res.RetryAfter, 90*time.Second)
	assert.LessOrEqual(t, res.RetryAfter, 100*time.Second)
}

func TestTokenBucketKeysAreIndependent(t *testing.T) {
	_, client := newClient(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()
	limits := Bucket{Rate: 0.01, Burst: 1}

	res, err := bucket.Allow(ctx, "bucket:a", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = bucket.Allow(ctx, "bucket:b", limits)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	_, client := newClient(t)
	bucket := NewTokenBucket(client)

	_, err := bucket.Allow(context.Background(), "", Bucket{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrBucketInvalid)
	_, err = bucket.Allow(context.Background(), "k", Bucket{Rate: 0, Burst: 1})
	assert.ErrorIs(t, err, ErrBucketInvalid)

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(context.Background(), "k", Bucket{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrBucketNotConfigured)
}

func TestLockerIsExclusive(t *testing.T) {
	mr, client := newClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sweeper:lock", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	other, err := locker.Acquire(ctx, "sweeper:lock", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other, "second holder must be refused")

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("sweeper:lock"))
}

func TestLeaseOnlyTouchesOwnToken(t *testing.T) {
	mr, client := newClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "sweeper:lock", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	ok, err := lease.Extend(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, mr.TTL("sweeper:lock"))

	// Simulate expiry followed by another replica taking over.
	require.NoError(t, mr.Set("sweeper:lock", "someone-else"))

	ok, err = lease.Extend(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))
	assert.True(t, mr.Exists("sweeper:lock"), "a stale lease must not release the new holder")
}

func TestLockerValidatesArguments(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()

	_, err := NewLocker(client).Acquire(ctx, "", time.Minute)
	assert.ErrorIs(t, err, ErrLockInvalid)

	var nilLocker *Locker
	_, err = nilLocker.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotConfigured)

	var nilLease *Lease
	assert.NoError(t, nilLease.Release(ctx))
}

func TestIngressLimiterDisabledWithoutRedis(t *testing.T) {
	l := NewIngressLimiter(IngressParams{
		Config: config.Config{Quota: config.QuotaConfig{IngressRate: 10, IngressBurst: 10}},
		Log:    zap.NewNop(),
	})
	assert.Nil(t, l)
	assert.True(t, l.Allow(context.Background(), quotadomain.NewTenantKey(quotadomain.TenantUser, "u_1"), "/validate").Allowed)
}

func TestIngressLimiterIsPerTenant(t *testing.T) {
	_, client := newClient(t)
	l := NewIngressLimiter(IngressParams{
		Config: config.Config{Quota: config.QuotaConfig{IngressRate: 0.01, IngressBurst: 1}},
		Client: client,
		Log:    zap.NewNop(),
	})
	require.True(t, l.Enabled())
	ctx := context.Background()
	a := quotadomain.NewTenantKey(quotadomain.TenantWorkspace, "ws_a")
	b := quotadomain.NewTenantKey(quotadomain.TenantWorkspace, "ws_b")

	assert.True(t, l.Allow(ctx, a, "/validate").Allowed)
	assert.False(t, l.Allow(ctx, a, "/validate").Allowed)
	assert.True(t, l.Allow(ctx, b, "/validate").Allowed)
}

func TestIngressLimiterFailsOpen(t *testing.T) {
	mr, client := newClient(t)
	l := NewIngressLimiter(IngressParams{
		Config: config.Config{Quota: config.QuotaConfig{IngressRate: 0.01, IngressBurst: 1}},
		Client: client,
		Log:    zap.NewNop(),
	})
	mr.Close()

	assert.True(t, l.Allow(context.Background(), quotadomain.NewTenantKey(quotadomain.TenantUser, "u_1"), "/validate").Allowed)
}
