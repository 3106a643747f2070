package worker

import (
	"context"
)

// Queue delivers jobs at least once. A dequeued job stays owned by the
// consumer until it is acked.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue blocks until a job is available or ctx is done
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
}

// Recoverer is implemented by queues that can re-deliver jobs left in flight
// by a crashed process
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process queue for single-instance deployments and tests
type MemoryQueue struct {
	jobs chan *Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 1
	}
	return &MemoryQueue{jobs: make(chan *Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, *Job) error {
	return nil
}

func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
