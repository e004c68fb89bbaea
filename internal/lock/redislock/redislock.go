// Package redislock serializes unit mutations across processes with Redis.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/unitclaims/pkg/claims"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix     = "unitclaims:lock:"
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// The key is deleted only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Option configures a Locker.
type Option func(*Locker)

// WithTTL bounds how long a crashed holder can keep a unit locked.
func WithTTL(ttl time.Duration) Option {
	return func(locker *Locker) {
		if ttl > 0 {
			locker.ttl = ttl
		}
	}
}

// WithRetryInterval sets the pause between acquisition attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(locker *Locker) {
		if interval > 0 {
			locker.retryInterval = interval
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) Option {
	return func(locker *Locker) {
		if prefix != "" {
			locker.keyPrefix = prefix
		}
	}
}

// WithLogger reports failed releases.
func WithLogger(logger *zap.Logger) Option {
	return func(locker *Locker) {
		if logger != nil {
			locker.logger = logger
		}
	}
}

// Locker implements claims.UnitLocker with SET NX PX and a token-checked release.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	keyPrefix     string
	logger        *zap.Logger
}

// New returns a Locker over client.
func New(client redis.UniversalClient, options ...Option) *Locker {
	locker := &Locker{
		client:        client,
		ttl:           defaultTTL,
		retryInterval: defaultRetryInterval,
		keyPrefix:     defaultKeyPrefix,
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	return locker
}

// Lock retries until the unit key is acquired or ctx is done.
func (locker *Locker) Lock(ctx context.Context, unit claims.UnitCode) (func(), error) {
	key := locker.key(unit)
	token := uuid.NewString()
	ticker := time.NewTicker(locker.retryInterval)
	defer ticker.Stop()
	for {
		acquired, err := locker.client.SetNX(ctx, key, token, locker.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s: %v", claims.ErrLockUnavailable, unit.String(), err)
		}
		if acquired {
			return locker.unlockFunc(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", claims.ErrLockUnavailable, unit.String(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (locker *Locker) unlockFunc(key string, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, locker.client, []string{key}, token).Err(); err != nil {
				locker.logger.Warn("unit lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func (locker *Locker) key(unit claims.UnitCode) string {
	return locker.keyPrefix + unit.String()
}
