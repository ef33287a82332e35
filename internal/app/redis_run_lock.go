package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseRunLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLock with SET NX PX. Only the holder's token can release it.
type RedisRunLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisRunLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisRunLock {
	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		trimmedKey = "estatepadi:subscriptions:reconcile_lock"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisRunLock{client: client, key: trimmedKey, ttl: ttl}
}

// Acquire takes the lock or returns ErrReconcileInProgress when another run holds it.
func (l *RedisRunLock) Acquire(ctx context.Context) (func(context.Context), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		return nil, ErrReconcileInProgress
	}

	release := func(ctx context.Context) {
		// Best effort; the TTL frees the key if this fails.
		_ = releaseRunLockScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, nil
}
