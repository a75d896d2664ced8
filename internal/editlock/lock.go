package editlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLocked means another session already holds the edit lock for the order.
var ErrLocked = fmt.Errorf("order is being edited in another session")

// Locker serializes edit access per order id so two console sessions cannot
// edit the same order concurrently.
type Locker interface {
	Acquire(ctx context.Context, orderID, sessionID string, ttl time.Duration) error
	Release(ctx context.Context, orderID, sessionID string) error
	Refresh(ctx context.Context, orderID, sessionID string, ttl time.Duration) error
}

type redisLocker struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisLocker(client *redis.Client, logger *logrus.Logger) Locker {
	return &redisLocker{client: client, logger: logger}
}

func lockKey(orderID string) string {
	return fmt.Sprintf("order-console:edit-lock:%s", orderID)
}

func (l *redisLocker) Acquire(ctx context.Context, orderID, sessionID string, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, lockKey(orderID), sessionID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire edit lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	l.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"session_id": sessionID,
	}).Info("Edit lock acquired")
	return nil
}

// releaseScript deletes the lock only when the caller still owns it, so a
// session that outlived its TTL cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *redisLocker) Release(ctx context.Context, orderID, sessionID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockKey(orderID)}, sessionID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release edit lock: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"order_id":   orderID,
		"session_id": sessionID,
	}).Info("Edit lock released")
	return nil
}

var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

func (l *redisLocker) Refresh(ctx context.Context, orderID, sessionID string, ttl time.Duration) error {
	res, err := refreshScript.Run(ctx, l.client, []string{lockKey(orderID)}, sessionID, ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to refresh edit lock: %w", err)
	}
	if res == 0 {
		return ErrLocked
	}
	return nil
}

// NoopLocker is used when Redis is not configured (single-instance local
// runs); it grants every acquisition.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, string, time.Duration) error { return nil }
func (NoopLocker) Release(context.Context, string, string) error                { return nil }
func (NoopLocker) Refresh(context.Context, string, string, time.Duration) error { return nil }
