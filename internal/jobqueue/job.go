// Package jobqueue is the FIFO work queue the Supervisor enqueues
// Refresh/Probe/Resurrect jobs onto and a worker pool drains. It is kept
// behind its own adapter, separate from the inventory cache, per the
// "cache as both inventory and queue" design note — even though both are
// currently backed by the same Redis connection, each responsibility has
// its own Go interface so either can be swapped independently.
package jobqueue

import (
	"context"
	"time"
)

// Kind identifies what a job does; the worker pool dispatches on this.
type Kind string

const (
	KindRefresh    Kind = "refresh"
	KindProbe      Kind = "probe"
	KindResurrect  Kind = "resurrect"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether s is a resting state the poller should stop on.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Context captures everything a job needs at enqueue time, modeling the
// side-channel "job.hv = h" attribute the upstream source attached to a
// job handle as an explicit, immutable struct instead.
type Context struct {
	Host           string   `json:"host,omitempty"`
	Addresses      []string `json:"addresses,omitempty"`
	Ports          []int    `json:"ports,omitempty"`
	DeadHost       string   `json:"dead_host,omitempty"`
	SpareHost      string   `json:"spare_host,omitempty"`
	IncludeTenants bool     `json:"include_tenants,omitempty"`
}

// Job is one unit of work in flight through the queue.
type Job struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Context Context `json:"context"`

	Status  Status `json:"status"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the contract the Supervisor and worker pool depend on.
type Queue interface {
	// Enqueue appends job to the FIFO and records it as queued.
	Enqueue(ctx context.Context, job *Job) error

	// Dequeue blocks (up to timeout) for the next job, marking it running.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	// Complete records a terminal outcome for jobID.
	Complete(ctx context.Context, jobID string, result string, jobErr error) error

	// Get returns the current record for jobID.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Purge deletes all queued/running job records, called once at
	// Supervisor startup per the external-interfaces contract.
	Purge(ctx context.Context) error
}

// WaitForTerminal polls Get at pollInterval until the job reaches a
// terminal status or timeout elapses, returning (job, true) on terminal,
// (lastSeen, false) on timeout. This is the completion-polling the design
// notes say to replace with a channel/future if the underlying queue
// supports it; go-redis's blocking list pop does not give us per-job
// completion notification, so the polling loop is retained with a
// configurable interval as the notes allow.
func WaitForTerminal(ctx context.Context, q Queue, jobID string, pollInterval, timeout time.Duration) (*Job, bool) {
	deadline := time.Now().Add(timeout)
	var last *Job
	for {
		job, err := q.Get(ctx, jobID)
		if err == nil && job != nil {
			last = job
			if job.Status.IsTerminal() {
				return job, true
			}
		}
		if time.Now().After(deadline) {
			return last, false
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-time.After(pollInterval):
		}
	}
}
