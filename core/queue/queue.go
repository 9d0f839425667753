// Package queue runs jobs asynchronously on a bounded channel drained by a
// fixed set of workers, retrying failures the caller marks as transient.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/netutil"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("queue: closed")
	// ErrQueueFull indicates the queue is saturated and the job was not accepted.
	ErrQueueFull = errors.New("queue: full")
	// ErrDuplicate is returned by EnqueueKey while a job with the same key is pending.
	ErrDuplicate = errors.New("queue: duplicate key pending")
)

// Options controls the behaviour of a Queue.
type Options struct {
	// Name is used as the log component, e.g. "wa.sender" or "watch.reload".
	Name         string
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent on a single job including retries.
	MaxDuration time.Duration
	// Retryable reports whether a failed attempt should be retried.
	// Nil means netutil.ShouldRetry.
	Retryable func(error) bool
}

// Job is one unit of work. Run must be idempotent if retries are enabled.
type Job struct {
	Action string
	Target string
	Run    func(ctx context.Context) error
}

type item struct {
	ctx context.Context
	key string
	job Job
}

// Queue executes jobs asynchronously with retries.
type Queue struct {
	opts Options
	jobs chan item

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}

	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64
	done atomic.Uint64
}

// New starts a queue with defaults for zeroed options.
func New(opts Options) *Queue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = "queue"
	}
	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool { return netutil.ShouldRetry(err) }
	}

	q := &Queue{
		opts:    opts,
		jobs:    make(chan item, opts.QueueSize),
		pending: make(map[string]struct{}),
	}
	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue schedules job for asynchronous execution.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	return q.enqueue(ctx, "", job)
}

// EnqueueKey schedules job unless another job with the same key is still
// waiting to start, in which case ErrDuplicate is returned.
func (q *Queue) EnqueueKey(ctx context.Context, key string, job Job) error {
	return q.enqueue(ctx, key, job)
}

func (q *Queue) enqueue(ctx context.Context, key string, job Job) error {
	if job.Run == nil {
		return errors.New("queue: nil run function")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if key != "" {
		if _, ok := q.pending[key]; ok {
			return ErrDuplicate
		}
	}
	select {
	case q.jobs <- item{ctx: ctx, key: key, job: job}:
		if key != "" {
			q.pending[key] = struct{}{}
		}
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that failed after all attempts.
func (q *Queue) ErrorCount() uint64 {
	return q.errs.Load()
}

// Processed returns the number of jobs that finished, successfully or not.
func (q *Queue) Processed() uint64 {
	return q.done.Load()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for it := range q.jobs {
		if it.key != "" {
			q.mu.Lock()
			delete(q.pending, it.key)
			q.mu.Unlock()
		}
		q.handle(it)
		q.done.Add(1)
	}
}

func (q *Queue) handle(it item) {
	ctx := it.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	// Jobs outlive the caller's request; keep its values but not its cancellation.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	logger.Debug(ctx, q.opts.Name, "job.start", jobAttrs(it.job)...)

	attempts := q.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := runCtx.Err(); err != nil {
			lastErr = err
			break
		}
		err := q.run(runCtx, it.job)
		if err == nil {
			attrs := jobAttrs(it.job)
			if attempt > 1 {
				logger.Info(ctx, q.opts.Name, "job.retry.success",
					append(attrs, slog.Int("attempt", attempt), slog.Duration("duration", time.Since(start)))...)
				return
			}
			logger.Debug(ctx, q.opts.Name, "job.success",
				append(attrs, slog.Duration("duration", time.Since(start)))...)
			return
		}
		lastErr = err
		if attempt == attempts || !q.opts.Retryable(err) {
			break
		}

		delay := q.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			timer.Stop()
			lastErr = errors.Join(err, runCtx.Err())
			attempt = attempts
		case <-timer.C:
			logger.Debug(ctx, q.opts.Name, "job.retry.backoff",
				append(jobAttrs(it.job), slog.Int("attempt", attempt), slog.Duration("delay", delay))...)
		}
	}

	q.errs.Add(1)
	logger.Error(ctx, q.opts.Name, "job.fail",
		append(jobAttrs(it.job),
			slog.String("err", logger.SanitizeLimit(lastErr.Error(), 512)),
			slog.String("err_kind", netutil.Classify(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", time.Since(start)),
		)...)
}

// run executes one attempt and converts a panic into an error so a worker survives.
func (q *Queue) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return job.Run(ctx)
}

// PanicError carries a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("queue: job panicked: %v", e.Value)
}

func jobAttrs(job Job) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", job.Action)}
	if job.Target != "" {
		attrs = append(attrs, slog.String("target", job.Target))
	}
	return attrs
}
