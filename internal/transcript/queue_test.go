package transcript

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestQueue_RunsAllJobsAndDrainsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("test", 64, 4, quietLogger())
	var ran atomic.Int64
	for i := 0; i < 50; i++ {
		q.Enqueue(Job{Name: "inc", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ran.Load() != 50 {
		t.Fatalf("expected 50 jobs run, got %d", ran.Load())
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("test", 2, 1, quietLogger())
	started := make(chan struct{})
	gate := make(chan struct{})

	var mu sync.Mutex
	var ran []string
	results := map[string]error{}
	job := func(name string) Job {
		return Job{
			Name: name,
			Run: func(ctx context.Context) error {
				if name == "a" {
					close(started)
					<-gate
				}
				mu.Lock()
				ran = append(ran, name)
				mu.Unlock()
				return nil
			},
			Done: func(err error) {
				mu.Lock()
				results[name] = err
				mu.Unlock()
			},
		}
	}

	q.Enqueue(job("a"))
	<-started
	q.Enqueue(job("b"))
	q.Enqueue(job("c"))
	q.Enqueue(job("d")) // buffer holds b,c: b is dropped
	close(gate)

	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 dropped job, got %d", q.Dropped())
	}
	if !errors.Is(results["b"], ErrDropped) {
		t.Fatalf("expected b dropped, got %v", results["b"])
	}
	want := []string{"a", "c", "d"}
	if len(ran) != len(want) {
		t.Fatalf("expected %v, got %v", want, ran)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ran)
		}
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("test", 4, 1, quietLogger())
	_ = q.Close(context.Background())

	var got error
	ok := q.Enqueue(Job{Name: "late", Done: func(err error) { got = err }})
	if ok {
		t.Fatalf("expected enqueue to fail after close")
	}
	if !errors.Is(got, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", got)
	}
	// Closing twice is harmless.
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestQueue_RecoversPanickingJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("test", 4, 1, quietLogger())
	errs := make(chan error, 2)
	q.Enqueue(Job{Name: "boom", Run: func(ctx context.Context) error { panic("boom") }, Done: func(err error) { errs <- err }})
	q.Enqueue(Job{Name: "ok", Run: func(ctx context.Context) error { return nil }, Done: func(err error) { errs <- err }})
	_ = q.Close(context.Background())

	if err := <-errs; !errors.Is(err, ErrPersistenceDegraded) {
		t.Fatalf("expected ErrPersistenceDegraded from panic, got %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("worker should survive a panic, got %v", err)
	}
}

func TestQueue_CloseDeadlineCancelsInflight(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue("test", 4, 1, quietLogger())
	started := make(chan struct{})
	q.Enqueue(Job{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
