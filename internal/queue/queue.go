// Package queue provides a durable at-least-once job queue backed by the
// application's SQLite database. Jobs survive restarts, retry with
// exponential backoff, and are retained for inspection once their retry
// budget is exhausted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// Defaults applied to every job.
const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 5 * time.Second
	claimBatchSize     = 25
)

// Job is what a handler receives: the durable identity plus the payload.
// The ID doubles as the idempotency key for anything the handler applies.
type Job struct {
	ID      string
	Topic   string
	Payload []byte
	Attempt int
}

// Handler consumes one job. A nil return acknowledges the job and deletes
// it; an error schedules a retry until attempts run out.
type Handler func(ctx context.Context, job Job) error

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Queue dispatches durable jobs to registered topic handlers.
type Queue struct {
	db    *db.DB
	log   *zap.Logger
	clock Clock

	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
}

// New creates a Queue polling at the given interval.
func New(database *db.DB, logger *zap.Logger, pollInterval time.Duration) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Queue{
		db:           database,
		log:          logger,
		clock:        systemClock{},
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// SetClock overrides the queue's time source. Call before Run.
func (q *Queue) SetClock(c Clock) { q.clock = c }

// Register binds a handler to a topic. Registering a topic twice replaces
// the previous handler.
func (q *Queue) Register(topic string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = h
}

// Options override a job's retry budget and base backoff delay.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Enqueue persists a job with default options and returns its ID. The job
// becomes eligible immediately.
func (q *Queue) Enqueue(ctx context.Context, topic string, payload any) (string, error) {
	return q.EnqueueWithOptions(ctx, topic, payload, Options{})
}

// EnqueueWithOptions persists a job for asynchronous delivery. Zero-value
// option fields fall back to the defaults.
func (q *Queue) EnqueueWithOptions(ctx context.Context, topic string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}

	now := q.clock.Now().UTC().Format(time.RFC3339)
	j := &db.Job{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     string(body),
		Status:      "pending",
		Attempts:    0,
		MaxAttempts: opts.MaxAttempts,
		BackoffMs:   opts.Backoff.Milliseconds(),
		NextRunAt:   now,
		CreatedAt:   now,
	}

	err = retry.Do(ctx, retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond)), func(ctx context.Context) error {
		if err := q.db.InsertJob(j); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", topic, err)
	}

	q.log.Debug("job enqueued", zap.String("id", j.ID), zap.String("topic", topic))
	return j.ID, nil
}

// Run polls for due jobs until the context is canceled. Only one Run loop
// may be active per Queue.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil && ctx.Err() == nil {
				q.log.Error("queue poll failed", zap.Error(err))
			}
		}
	}
}

// Drain dispatches every currently due job once. Exposed so tests and the
// scheduler can pump the queue without the polling loop.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		now := q.clock.Now().UTC().Format(time.RFC3339)
		jobs, err := q.db.DueJobs(now, claimBatchSize)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for i := range jobs {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.dispatch(ctx, &jobs[i])
		}
		if len(jobs) < claimBatchSize {
			return nil
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, j *db.Job) {
	q.mu.Lock()
	h, ok := q.handlers[j.Topic]
	q.mu.Unlock()

	if !ok {
		q.retire(j, fmt.Sprintf("no handler for topic %s", j.Topic))
		return
	}

	attempt := j.Attempts + 1
	err := h(ctx, Job{ID: j.ID, Topic: j.Topic, Payload: []byte(j.Payload), Attempt: attempt})
	if err == nil {
		if derr := q.ack(ctx, j.ID); derr != nil {
			q.log.Error("job ack failed", zap.String("id", j.ID), zap.Error(derr))
		}
		return
	}

	if attempt >= j.MaxAttempts {
		q.retire(j, err.Error())
		return
	}

	// Backoff doubles per attempt from the job's base delay.
	delay := time.Duration(j.BackoffMs) * time.Millisecond << (attempt - 1)
	next := q.clock.Now().UTC().Add(delay).Format(time.RFC3339)
	if rerr := q.db.RescheduleJob(j.ID, attempt, next, err.Error()); rerr != nil {
		q.log.Error("job reschedule failed", zap.String("id", j.ID), zap.Error(rerr))
		return
	}
	q.log.Warn("job attempt failed",
		zap.String("id", j.ID),
		zap.String("topic", j.Topic),
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay),
		zap.Error(err))
}

func (q *Queue) ack(ctx context.Context, id string) error {
	return retry.Do(ctx, retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond)), func(ctx context.Context) error {
		if err := q.db.DeleteJob(id); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (q *Queue) retire(j *db.Job, reason string) {
	if err := q.db.MarkJobFailed(j.ID, j.MaxAttempts, reason); err != nil {
		q.log.Error("job retire failed", zap.String("id", j.ID), zap.Error(err))
		return
	}
	q.log.Error("job retired",
		zap.String("id", j.ID),
		zap.String("topic", j.Topic),
		zap.String("reason", reason))
}

// Failed returns retired jobs for inspection, newest first.
func (q *Queue) Failed() ([]db.Job, error) {
	return q.db.FailedJobs()
}
