// Package redis provides a store.Locker shared by every server instance
// pointing at the same Redis.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/learnflow/internal/config"
	"github.com/phrazzld/learnflow/internal/platform/logger"
	"github.com/phrazzld/learnflow/internal/redact"
	"github.com/phrazzld/learnflow/internal/store"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "learnflow:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements store.Locker with SET NX PX and a token-checked release.
type Locker struct {
	client     redis.UniversalClient
	ttl        time.Duration
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ store.Locker = (*Locker)(nil)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewLocker creates a Locker. ttl bounds how long a crashed holder can block
// others; timeout bounds how long Acquire waits.
func NewLocker(
	client redis.UniversalClient,
	ttl, timeout, retryDelay time.Duration,
	l *slog.Logger,
) *Locker {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if l == nil {
		l = slog.Default()
	}
	return &Locker{
		client:     client,
		ttl:        ttl,
		timeout:    timeout,
		retryDelay: retryDelay,
		logger:     l.With(slog.String("component", "redis_locker")),
	}
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	log := logger.FromContextOrDefault(ctx, l.logger)
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	redisKey := keyPrefix + key

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			log.Error("failed to set lock key", redact.Attr(err), slog.String("key", key))
			return nil, fmt.Errorf("%w: %s: %w", store.ErrLockNotAcquired, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			log.Warn("timed out waiting for lock", slog.String("key", key))
			return nil, fmt.Errorf("%w: %s: %w", store.ErrLockNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be done; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				log.Error("failed to release lock", redact.Attr(err), slog.String("key", key))
			}
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
