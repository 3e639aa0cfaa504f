package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sagaflow/sagaflow/pkg/logger"
)

// releaseScript deletes the lock key only when it still holds our
// token, so an expired lease grabbed by another worker is never
// released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by Redis SET NX leases. The lease TTL
// bounds how long a crashed worker can hold a saga.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    logger.Logger

	mu     sync.Mutex
	tokens map[int64]string
}

// NewRedisLocker builds a distributed per-saga locker. A non-positive
// ttl defaults to one minute.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = logger.Global()
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: "sagaflow:lock:",
		log:    log,
		tokens: make(map[int64]string),
	}
}

func (l *RedisLocker) key(orderID int64) string {
	return fmt.Sprintf("%s%d", l.prefix, orderID)
}

func (l *RedisLocker) TryLock(ctx context.Context, orderID int64) bool {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(orderID), token, l.ttl).Result()
	if err != nil {
		l.log.ErrorContext(ctx, "redis lock acquire failed",
			"order_id", orderID,
			"error", err,
		)
		return false
	}
	if !ok {
		return false
	}
	l.mu.Lock()
	l.tokens[orderID] = token
	l.mu.Unlock()
	return true
}

func (l *RedisLocker) ReleaseLock(ctx context.Context, orderID int64) {
	l.mu.Lock()
	token, held := l.tokens[orderID]
	delete(l.tokens, orderID)
	l.mu.Unlock()
	if !held {
		return
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key(orderID)}, token).Err(); err != nil && err != redis.Nil {
		l.log.WarnContext(ctx, "redis lock release failed",
			"order_id", orderID,
			"error", err,
		)
	}
}
