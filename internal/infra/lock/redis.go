package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leaseTTL      = 10 * time.Second
	retryInterval = 50 * time.Millisecond
)

// RedisLocker сериализует работу с данными арендатора между процессами
// через аренду ключа в Redis.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker создаёт распределённую блокировку.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// WithLock выполняет fn под блокировкой арендатора. Ключ снимается только
// владельцем аренды: чужой ключ после истечения TTL не трогаем.
func (l *RedisLocker) WithLock(ctx context.Context, tenantID string, fn func() error) error {
	key := fmt.Sprintf("lock:tenant:%s", tenantID)
	owner := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, owner, leaseTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	defer func() {
		current, err := l.client.Get(context.Background(), key).Result()
		if err == nil && current == owner {
			_ = l.client.Del(context.Background(), key).Err()
		}
	}()
	return fn()
}
