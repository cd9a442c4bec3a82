package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisListKey   = "sonny:jobs:queue"
	redisJobPrefix = "sonny:jobs:record:"
)

// RedisQueue is a Redis-backed Queue: a list for FIFO ordering plus one
// string key per job record, mirroring the teacher's queue/redis_notifier.go
// PUBLISH/SUBSCRIBE split between transport and payload.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func recordKey(id string) string {
	return redisJobPrefix + id
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = StatusQueued
	job.EnqueuedAt = time.Now()

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: encode job: %w", err)
	}
	if err := q.client.Set(ctx, recordKey(job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("jobqueue: write record: %w", err)
	}
	if err := q.client.RPush(ctx, redisListKey, job.ID).Err(); err != nil {
		return fmt.Errorf("jobqueue: push: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BLPop(ctx, timeout, redisListKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: blpop: %w", err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("jobqueue: unexpected blpop result %v", res)
	}
	id := res[1]

	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("jobqueue: dequeued id %s has no record", id)
	}
	job.Status = StatusRunning
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string, result string, jobErr error) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("jobqueue: complete: no record for %s", jobID)
	}
	if jobErr != nil {
		job.Status = StatusFailed
		job.Error = jobErr.Error()
	} else {
		job.Status = StatusFinished
		job.Result = result
	}
	return q.save(ctx, job)
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	raw, err := q.client.Get(ctx, recordKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: read record: %w", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("jobqueue: decode record: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) save(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: encode job: %w", err)
	}
	return q.client.Set(ctx, recordKey(job.ID), raw, 0).Err()
}

// Purge deletes all queued/in-flight job records and drains the list,
// matching the external-interfaces contract: "on startup the Supervisor
// SHALL purge pre-existing queued and in-flight job records."
func (q *RedisQueue) Purge(ctx context.Context) error {
	if err := q.client.Del(ctx, redisListKey).Err(); err != nil {
		return fmt.Errorf("jobqueue: purge: del list: %w", err)
	}
	// Scan every record key, not just the ids still in the list, so records
	// of jobs that were already dequeued (running) are removed as well.
	iter := q.client.Scan(ctx, 0, redisJobPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := q.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("jobqueue: purge: del record %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("jobqueue: purge: scan records: %w", err)
	}
	return nil
}
