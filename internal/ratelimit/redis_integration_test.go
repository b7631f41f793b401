//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/leakradar/internal/config"
	"github.com/smallbiznis/leakradar/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker := NewLocker(testutil.Redis(t))
	ctx := context.Background()
	key := "leakradar:lock:scan:2026-10-19"

	token, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = locker.WithLock(ctx, key, time.Minute, func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrLockHeld))

	// A stale token must not release someone else's lock.
	require.NoError(t, locker.Release(ctx, key, "not-the-owner"))
	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, key, token))
	ran := false
	require.NoError(t, locker.WithLock(ctx, key, time.Minute, func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestLockoutLocksAfterThreshold(t *testing.T) {
	lockout := NewLockout(testutil.Redis(t))
	lockout.Threshold = 3
	ctx := context.Background()
	key := "billing-connect:42"

	for i := 0; i < 2; i++ {
		locked, err := lockout.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.False(t, locked)
	}
	locked, err := lockout.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.True(t, locked)

	remaining, err := lockout.Locked(ctx, key)
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Duration(0))

	require.NoError(t, lockout.Reset(ctx, key))
	remaining, err = lockout.Locked(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestCronLimiterDeniesAfterBurst(t *testing.T) {
	bucket := NewTokenBucket(testutil.Redis(t))
	limiter := NewCronLimiter(bucket, config.Config{Redis: config.RedisConfig{CronRate: 0.01, CronBurst: 2}})
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	res, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
