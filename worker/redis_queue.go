package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	pendingKey    = "lawsim:jobs:pending"
	processingKey = "lawsim:jobs:processing"
)

// RedisQueue is a reliable list queue: jobs move atomically from the pending
// list to the processing list and are removed from it on ack
type RedisQueue struct {
	client      *redis.Client
	pollTimeout time.Duration
	log         *logrus.Entry
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:      client,
		pollTimeout: 2 * time.Second,
		log:         logrus.WithField("component", "redis_queue"),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, pendingKey, raw).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := q.client.BRPopLPush(ctx, pendingKey, processingKey, q.pollTimeout).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			q.log.WithError(err).Error("dropping undecodable job")
			q.client.LRem(ctx, processingKey, 1, raw)
			continue
		}
		job.raw = raw
		return &job, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == nil {
		return nil
	}
	return q.client.LRem(ctx, processingKey, 1, job.raw).Err()
}

// Recover moves every job left in the processing list back to pending. Only
// call it before any consumer of this queue has started.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, processingKey, pendingKey).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		q.log.WithField("jobs", moved).Warn("re-queued jobs left in processing")
	}
	return moved, nil
}

func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, pendingKey).Result()
}
