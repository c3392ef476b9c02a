package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Pop when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// Queue is a FIFO of encoded payloads.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, items ...string) error
}

// RedisQueue is a Redis list used as a queue (RPUSH / BLPOP).
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue creates a queue over the list at key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

// Pop blocks for at most timeout (Redis needs >= 1s).
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}
	if len(result) < 2 {
		return "", ErrQueueEmpty
	}
	return result[1], nil
}

// Push appends items in one pipeline.
func (q *RedisQueue) Push(ctx context.Context, items ...string) error {
	if len(items) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, it := range items {
		pipe.RPush(ctx, q.key, it)
	}
	_, err := pipe.Exec(ctx)
	return err
}
