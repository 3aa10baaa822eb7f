package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultJobTimeout = 5 * time.Second

// Job is one unit of background persistence work.
type Job struct {
	Name   string
	CallID string
	Run    func(ctx context.Context) error
	// Done, when set, is called exactly once with the job's outcome,
	// including ErrDropped and ErrQueueClosed.
	Done func(err error)
}

func (j Job) finish(err error) {
	if j.Done != nil {
		j.Done(err)
	}
}

// Queue is a bounded job queue drained by a fixed pool of workers.
// Enqueue never blocks: when the buffer is full the oldest pending job is dropped.
type Queue struct {
	name       string
	jobs       chan Job
	log        *slog.Logger
	jobTimeout time.Duration

	// mu serializes producers so drop-oldest and Close cannot interleave.
	mu     sync.Mutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	dropped atomic.Int64
}

// NewQueue starts workers goroutines consuming a buffer of size jobs.
func NewQueue(name string, size, workers int, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:       name,
		jobs:       make(chan Job, size),
		log:        log.With("component", "queue", "queue", name),
		jobTimeout: defaultJobTimeout,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	q.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go q.work()
	}
	return q
}

// Enqueue adds j without blocking. It returns false only when the queue is closed,
// in which case j.Done receives ErrQueueClosed.
func (q *Queue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		j.finish(ErrQueueClosed)
		return false
	}
	for {
		select {
		case q.jobs <- j:
			return true
		default:
		}
		select {
		case old := <-q.jobs:
			n := q.dropped.Add(1)
			q.log.Warn("queue full, dropping oldest job", "job", old.Name, "call_id", old.CallID, "dropped_total", n)
			old.finish(ErrDropped)
		default:
		}
	}
}

// Dropped is the number of jobs discarded because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Close stops accepting jobs and waits for queued work to drain.
// If ctx expires first, in-flight jobs are cancelled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for j := range q.jobs {
		j.finish(q.run(j))
	}
}

func (q *Queue) run(j Job) (err error) {
	ctx, cancel := context.WithTimeout(q.baseCtx, q.jobTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrPersistenceDegraded, j.Name, p)
		}
	}()
	if j.Run == nil {
		return nil
	}
	return j.Run(ctx)
}
