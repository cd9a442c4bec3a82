// Package worker drains jobqueue.Queue and executes each job against the
// collaborator the job's Kind names: a refresh against the cloud adapter, a
// probe against the prober, or a resurrection transplant. Jobs are
// independent units; any number of workers may run concurrently against the
// same queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/sonny/internal/jobqueue"
	"github.com/oriys/sonny/internal/logging"
	"github.com/oriys/sonny/internal/prober"
	"github.com/oriys/sonny/internal/refresher"
	"github.com/oriys/sonny/internal/resurrector"
)

// Pool dequeues jobs and dispatches them to the appropriate collaborator.
type Pool struct {
	Queue       jobqueue.Queue
	Refresher   *refresher.Refresher
	Prober      *prober.Prober
	Resurrector *resurrector.Resurrector

	// Concurrency bounds how many jobs this pool executes at once.
	Concurrency int
	// DequeueTimeout bounds a single blocking dequeue attempt so the pool
	// can notice context cancellation between polls.
	DequeueTimeout time.Duration
}

// New returns a Pool wired to its collaborators with sane defaults.
func New(q jobqueue.Queue, ref *refresher.Refresher, p *prober.Prober, res *resurrector.Resurrector) *Pool {
	return &Pool{
		Queue:          q,
		Refresher:      ref,
		Prober:         p,
		Resurrector:    res,
		Concurrency:    8,
		DequeueTimeout: time.Second,
	}
}

// Run drains the queue until ctx is cancelled. It blocks.
func (p *Pool) Run(ctx context.Context) {
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.Queue.Dequeue(ctx, p.DequeueTimeout)
		if err != nil {
			logging.Op().Warn("worker: dequeue failed", "error", err)
			continue
		}
		if job == nil {
			continue
		}

		sem <- struct{}{}
		go func(j *jobqueue.Job) {
			defer func() { <-sem }()
			p.execute(ctx, j)
		}(job)
	}
}

func (p *Pool) execute(ctx context.Context, job *jobqueue.Job) {
	var result string
	var err error

	switch job.Kind {
	case jobqueue.KindRefresh:
		err = p.Refresher.Refresh(ctx, job.Context.IncludeTenants)

	case jobqueue.KindProbe:
		var unreachable []string
		unreachable, err = p.Prober.Probe(ctx, job.Context.Addresses, job.Context.Ports)
		if err == nil {
			raw, mErr := json.Marshal(unreachable)
			if mErr != nil {
				err = mErr
			} else {
				result = string(raw)
			}
		}

	case jobqueue.KindResurrect:
		err = p.Resurrector.Resurrect(ctx, job.Context.DeadHost, job.Context.SpareHost, true)

	default:
		err = fmt.Errorf("worker: unknown job kind %q", job.Kind)
	}

	if cerr := p.Queue.Complete(ctx, job.ID, result, err); cerr != nil {
		logging.Op().Error("worker: failed to record job completion", "job", job.ID, "kind", job.Kind, "error", cerr)
	}
	if err != nil {
		logging.Op().Warn("worker: job failed", "job", job.ID, "kind", job.Kind, "error", err)
	}
}
