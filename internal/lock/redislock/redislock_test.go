package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockedUnit = "A-0101"

func newTestLocker(test *testing.T, options ...Option) (*Locker, *miniredis.Miniredis) {
	test.Helper()
	server, err := miniredis.Run()
	require.NoError(test, err)
	test.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	test.Cleanup(func() { _ = client.Close() })
	options = append([]Option{WithRetryInterval(5 * time.Millisecond)}, options...)
	return New(client, options...), server
}

func mustUnit(test *testing.T, raw string) claims.UnitCode {
	test.Helper()
	unit, err := claims.NewUnitCode(raw)
	require.NoError(test, err)
	return unit
}

func TestLockAcquiresAndReleasesKey(test *testing.T) {
	test.Parallel()
	locker, server := newTestLocker(test)
	unit := mustUnit(test, lockedUnit)

	unlock, err := locker.Lock(context.Background(), unit)
	require.NoError(test, err)
	assert.True(test, server.Exists(defaultKeyPrefix+lockedUnit))
	assert.Equal(test, defaultTTL, server.TTL(defaultKeyPrefix+lockedUnit))

	unlock()
	assert.False(test, server.Exists(defaultKeyPrefix+lockedUnit))
	assert.NotPanics(test, unlock)
}

func TestLockWaitsForHolderUntilContextDone(test *testing.T) {
	test.Parallel()
	locker, _ := newTestLocker(test)
	unit := mustUnit(test, lockedUnit)
	unlock, err := locker.Lock(context.Background(), unit)
	require.NoError(test, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, unit)
	require.ErrorIs(test, err, claims.ErrLockUnavailable)
}

func TestLockAcquiresAfterRelease(test *testing.T) {
	test.Parallel()
	locker, _ := newTestLocker(test)
	unit := mustUnit(test, lockedUnit)
	unlock, err := locker.Lock(context.Background(), unit)
	require.NoError(test, err)

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		second, lockErr := locker.Lock(ctx, unit)
		if lockErr == nil {
			second()
		}
		acquired <- lockErr
	}()
	time.Sleep(20 * time.Millisecond)
	unlock()
	require.NoError(test, <-acquired)
}

func TestUnlockKeepsForeignToken(test *testing.T) {
	test.Parallel()
	locker, server := newTestLocker(test)
	unit := mustUnit(test, lockedUnit)
	unlock, err := locker.Lock(context.Background(), unit)
	require.NoError(test, err)

	require.NoError(test, server.Set(defaultKeyPrefix+lockedUnit, "another-holder"))
	unlock()

	value, err := server.Get(defaultKeyPrefix + lockedUnit)
	require.NoError(test, err)
	assert.Equal(test, "another-holder", value)
}

func TestExpiredLockCanBeTaken(test *testing.T) {
	test.Parallel()
	locker, server := newTestLocker(test, WithTTL(time.Second), WithKeyPrefix("test:"))
	unit := mustUnit(test, lockedUnit)
	_, err := locker.Lock(context.Background(), unit)
	require.NoError(test, err)

	server.FastForward(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlock, err := locker.Lock(ctx, unit)
	require.NoError(test, err)
	unlock()
}
