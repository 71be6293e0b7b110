package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InProcessQueue is a channel-backed broker for run-once mode and tests.
type InProcessQueue struct {
	jobs chan Job

	mu   sync.Mutex
	dead []Job
}

func NewInProcessQueue(capacity int) *InProcessQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InProcessQueue{jobs: make(chan Job, capacity)}
}

func (q *InProcessQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("in-process queue is full")
	}
}

func (q *InProcessQueue) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	if wait <= 0 {
		select {
		case job := <-q.jobs:
			return job, true, nil
		default:
			return Job{}, false, nil
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case job := <-q.jobs:
		return job, true, nil
	case <-timer.C:
		return Job{}, false, nil
	case <-ctx.Done():
		return Job{}, false, ctx.Err()
	}
}

func (q *InProcessQueue) Bury(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

// Dead returns buried jobs, for tests and run-once reporting.
func (q *InProcessQueue) Dead() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.dead...)
}
