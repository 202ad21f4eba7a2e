package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"clickdivulga/internal/domain"
)

// RedisSweepQueue реализует очередь проходов рассылки на базе Redis lists.
type RedisSweepQueue struct {
	client *redis.Client
	key    string
}

// NewRedisSweepQueue создаёт очередь по указанному ключу.
func NewRedisSweepQueue(client *redis.Client, key string) *RedisSweepQueue {
	return &RedisSweepQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisSweepQueue) Enqueue(ctx context.Context, job domain.SweepJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisSweepQueue) Pop(ctx context.Context) (domain.SweepJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.SweepJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.SweepJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.SweepJob{}, err
		}
		if len(res) != 2 {
			return domain.SweepJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.SweepJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.SweepJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
