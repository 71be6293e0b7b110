package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisJobsKey = "story-processor:classify"
	redisDeadKey = "story-processor:classify:dead"
)

// RedisQueue is a Redis list broker: LPUSH to enqueue, BRPOP to consume.
// Dead jobs land on a separate list for inspection.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(brokerURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse BROKER_URL: %w", err)
	}
	return &RedisQueue{client: redis.NewClient(opts)}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis broker: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, redisJobsKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	result, err := q.client.BRPop(ctx, wait, redisJobsKey).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeue job: %w", err)
	}
	if len(result) != 2 {
		return Job{}, false, fmt.Errorf("dequeue job: unexpected BRPOP reply of %d elements", len(result))
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job payload: %w", err)
	}
	return job, true, nil
}

func (q *RedisQueue) Bury(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal dead job %s: %w", job.ID, err)
	}
	if err := q.client.LPush(ctx, redisDeadKey, payload).Err(); err != nil {
		return fmt.Errorf("bury job %s: %w", job.ID, err)
	}
	return nil
}
