// Package queue provides the client's cooperative task queue: a single
// goroutine executing enqueued tasks strictly in order. Stream callbacks and
// transaction retry delays are delivered through it, so work scheduled from
// one client never overlaps.
package queue

import (
	"sync"
	"time"
)

type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// New starts the queue's executor goroutine.
func New() *Queue {
	q := &Queue{
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		task()
	}
}

// Enqueue schedules fn to run after all previously enqueued tasks. After
// Close it is a no-op. The queue is unbounded, so tasks may safely enqueue
// further tasks.
func (q *Queue) Enqueue(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
}

// EnqueueAfterDelay schedules fn onto the queue once the delay elapses.
// Timers that have not fired by Close are dropped; callers that must not
// wait on a dropped task select on Done alongside their own signal.
func (q *Queue) EnqueueAfterDelay(delay time.Duration, fn func()) {
	if delay <= 0 {
		q.Enqueue(fn)
		return
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.timersMu.Lock()
		delete(q.timers, t)
		q.timersMu.Unlock()
		q.Enqueue(fn)
	})
	q.timersMu.Lock()
	q.timers[t] = struct{}{}
	q.timersMu.Unlock()
}

// Done is closed once the executor has stopped: the queue was closed and
// every task already queued has run. Tasks scheduled after that point never
// run, so waiters should select on Done next to their own completion signal.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Drain blocks until every task enqueued so far has executed. Must not be
// called from a task on the queue itself.
func (q *Queue) Drain() {
	done := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, func() { close(done) })
	q.cond.Signal()
	q.mu.Unlock()
	<-done
}

// Close stops accepting tasks, cancels pending timers and waits for the
// executor to finish the tasks already queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()

	q.timersMu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.timersMu.Unlock()

	<-q.done
}
