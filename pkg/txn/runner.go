package txn

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/docbase/docbase.go/internal/queue"
	"github.com/docbase/docbase.go/pkg/logger"
	"github.com/docbase/docbase.go/pkg/status"
)

// DefaultMaxAttempts bounds how often a transaction re-runs after a commit
// conflict.
const DefaultMaxAttempts = 5

// Backoff computes the delay before a retry attempt. attempt is 0-based.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped at
// MaxDelay, with optional jitter to avoid thundering herds.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.5,
		JitterFactor: 0.3,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.JitterFactor > 0 {
		//nolint:gosec // jitter is not security critical
		jitter := delay * b.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(b.InitialDelay)
		}
	}
	return time.Duration(delay)
}

// Runner drives a user function against the backend with optimistic
// concurrency: each attempt runs the function from scratch against fresh
// reads; commit conflicts retry after backoff, scheduled on the client's
// task queue so retries never overlap other pending client work.
type Runner struct {
	Datastore   Datastore
	Queue       *queue.Queue
	MaxAttempts int
	Backoff     Backoff
	Logger      logger.Logger
}

func NewRunner(datastore Datastore, q *queue.Queue, log logger.Logger) *Runner {
	return &Runner{
		Datastore:   datastore,
		Queue:       q,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     NewExponentialBackoff(),
		Logger:      log,
	}
}

// Run executes fn in a transaction, retrying commit conflicts up to
// MaxAttempts. The terminal error after exhausted retries is the last
// attempt's underlying failure, never a generic retries-exceeded message.
// Non-conflict failures propagate immediately; retry policy for those
// belongs to the caller.
func (r *Runner) Run(ctx context.Context, fn func(t *Transaction) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.runAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !status.IsRetryableTxn(err) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		delay := r.Backoff.NextDelay(attempt - 1)
		if r.Logger != nil {
			r.Logger.Debug("transaction attempt failed, retrying",
				"attempt", attempt, "delay", delay.String(), "error", err.Error())
		}
		if err := r.wait(ctx, delay); err != nil {
			return err
		}
	}

	return status.Wrap(status.CodeOf(lastErr), lastErr,
		"transaction failed after %d attempts", maxAttempts)
}

func (r *Runner) runAttempt(ctx context.Context, fn func(t *Transaction) error) error {
	t := newTransaction(r.Datastore)
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit(ctx)
}

// wait parks until the backoff delay has elapsed on the task queue, so the
// retry slots in after work the client already scheduled.
func (r *Runner) wait(ctx context.Context, delay time.Duration) error {
	if r.Queue == nil {
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	r.Queue.EnqueueAfterDelay(delay, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-r.Queue.Done():
		// A closed queue drops the timer task, so done would never fire.
		return status.Errorf(status.Cancelled, "task queue closed while waiting to retry")
	case <-ctx.Done():
		return ctx.Err()
	}
}
