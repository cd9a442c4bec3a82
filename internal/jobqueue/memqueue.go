package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemQueue is an in-process Queue implementation for tests, where spinning
// up Redis adds nothing.
type MemQueue struct {
	mu      sync.Mutex
	pending []string
	records map[string]*Job
	signal  chan struct{}
}

// NewMemQueue returns an empty in-memory queue.
func NewMemQueue() *MemQueue {
	return &MemQueue{
		records: make(map[string]*Job),
		signal:  make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusQueued
	job.EnqueuedAt = time.Now()
	cp := *job
	q.records[job.ID] = &cp
	q.pending = append(q.pending, job.ID)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			job := q.records[id]
			job.Status = StatusRunning
			q.mu.Unlock()
			cp := *job
			return &cp, nil
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-q.signal:
		case <-time.After(remaining):
		}
	}
}

func (q *MemQueue) Complete(ctx context.Context, jobID string, result string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[jobID]
	if !ok {
		return nil
	}
	if jobErr != nil {
		job.Status = StatusFailed
		job.Error = jobErr.Error()
	} else {
		job.Status = StatusFinished
		job.Result = result
	}
	return nil
}

func (q *MemQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.records[jobID]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (q *MemQueue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.records = make(map[string]*Job)
	return nil
}
