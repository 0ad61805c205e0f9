package typing

import (
	"context"
	"sync"
)

// queue is a single-worker FIFO job runner. Jobs are applied strictly in
// enqueue order; no job starts while a previous one is in flight.
type queue struct {
	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newQueue(size int) *queue {
	q := &queue{
		jobs: make(chan func(), size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

// Enqueue appends a job, blocking under backpressure so ordering is
// preserved. Jobs enqueued after Close are dropped. The lock is held
// across the send so Close can never close the channel mid-enqueue.
func (q *queue) Enqueue(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs <- job
	return true
}

// Drain waits until every job enqueued before the call has run.
func (q *queue) Drain(ctx context.Context) error {
	fence := make(chan struct{})
	if !q.Enqueue(func() { close(fence) }) {
		return nil // already closed, worker finished everything
	}
	select {
	case <-fence:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.jobs)
	<-q.done
}
