package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemQueue_EnqueueDequeueComplete(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()

	job := &Job{Kind: KindProbe, Context: Context{Host: "hv1"}}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.Status != StatusRunning {
		t.Fatalf("got = %+v, want running job", got)
	}

	if err := q.Complete(ctx, got.ID, "ok", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, err := q.Get(ctx, got.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != StatusFinished || final.Result != "ok" {
		t.Errorf("final = %+v", final)
	}
}

func TestMemQueue_DequeueTimesOutWhenEmpty(t *testing.T) {
	q := NewMemQueue()
	job, err := q.Dequeue(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil job on timeout, got %+v", job)
	}
}

func TestWaitForTerminal_ReturnsOnFailure(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	job := &Job{Kind: KindResurrect}
	_ = q.Enqueue(ctx, job)
	_, _ = q.Dequeue(ctx, time.Second)
	_ = q.Complete(ctx, job.ID, "", errors.New("boom"))

	final, terminal := WaitForTerminal(ctx, q, job.ID, 5*time.Millisecond, time.Second)
	if !terminal {
		t.Fatal("expected terminal=true")
	}
	if final.Status != StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
}

func TestWaitForTerminal_TimesOut(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	job := &Job{Kind: KindProbe}
	_ = q.Enqueue(ctx, job)

	_, terminal := WaitForTerminal(ctx, q, job.ID, 5*time.Millisecond, 30*time.Millisecond)
	if terminal {
		t.Fatal("expected terminal=false on timeout")
	}
}

func TestPurge_ClearsQueueAndRecords(t *testing.T) {
	q := NewMemQueue()
	ctx := context.Background()
	job := &Job{Kind: KindRefresh}
	_ = q.Enqueue(ctx, job)

	if err := q.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected purged record to be gone, got %+v", got)
	}
}
