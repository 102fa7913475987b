// Package queue is the durable run queue: jobs are persisted in Redis
// before execution and delivered to workers at least once. A job moves
// waiting -> processing via an atomic LMOVE, which is the exclusive claim;
// retryable failures go back through a delayed set with exponential
// backoff.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	redisc "github.com/veilflow/veilflow/common/redis"
)

const (
	keyWaiting    = "vf:queue:waiting"
	keyProcessing = "vf:queue:processing"
	keyDelayed    = "vf:queue:delayed"
	keyCompleted  = "vf:queue:completed"
	keyFailed     = "vf:queue:failed"
	keyJobPrefix  = "vf:queue:job:"
)

// Job is the persisted unit of work: one run to execute
type Job struct {
	ID          string
	RunID       uuid.UUID
	Attempts    int
	MaxAttempts int
	BackoffBase time.Duration
	EnqueuedAt  time.Time
}

// Options tune a single enqueue. Zero values fall back to queue defaults.
type Options struct {
	// Delay postpones first delivery
	Delay time.Duration
	// Attempts caps delivery attempts (default 5)
	Attempts int
	// BackoffBase is the first retry delay; it doubles per attempt
	// (default 5s)
	BackoffBase time.Duration
}

// Config holds queue-wide defaults
type Config struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	KeepCompleted int
	KeepFailed    int
}

// Logger is the logging surface the queue needs
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Queue persists and delivers run jobs
type Queue struct {
	redis *redisc.Client
	log   Logger
	cfg   Config
}

// New creates a queue over the given Redis client
func New(redisClient *redisc.Client, cfg Config, log Logger) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = 100
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = 500
	}
	return &Queue{redis: redisClient, log: log, cfg: cfg}
}

// Enqueue persists a job for a run and schedules its delivery
func (q *Queue) Enqueue(ctx context.Context, runID uuid.UUID, opts *Options) (string, error) {
	job := Job{
		ID:          uuid.New().String(),
		RunID:       runID,
		MaxAttempts: q.cfg.MaxAttempts,
		BackoffBase: q.cfg.BackoffBase,
		EnqueuedAt:  time.Now().UTC(),
	}

	var delay time.Duration
	if opts != nil {
		if opts.Attempts > 0 {
			job.MaxAttempts = opts.Attempts
		}
		if opts.BackoffBase > 0 {
			job.BackoffBase = opts.BackoffBase
		}
		delay = opts.Delay
	}

	if err := q.saveJob(ctx, &job); err != nil {
		return "", err
	}

	if delay > 0 {
		if err := q.redis.AddToDelayed(ctx, keyDelayed, job.ID, time.Now().Add(delay)); err != nil {
			return "", fmt.Errorf("schedule delayed job: %w", err)
		}
	} else {
		if err := q.redis.PushToList(ctx, keyWaiting, job.ID); err != nil {
			return "", fmt.Errorf("enqueue job: %w", err)
		}
	}

	q.log.Debug("job enqueued", "job_id", job.ID, "run_id", runID, "delay", delay)
	return job.ID, nil
}

// Depth returns the number of waiting jobs
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.redis.ListLength(ctx, keyWaiting)
}

// claim atomically takes one job off the waiting list. Returns nil when
// the queue is empty.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	jobID, ok, err := q.redis.MoveListEntry(ctx, keyWaiting, keyProcessing)
	if err != nil || !ok {
		return nil, err
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		// Orphaned id without a record: drop it from processing
		_ = q.redis.RemoveFromList(ctx, keyProcessing, 1, jobID)
		return nil, err
	}

	return job, nil
}

// promoteDue moves delayed jobs whose backoff has elapsed onto the
// waiting list
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.redis.PopDue(ctx, keyDelayed, time.Now())
	if err != nil {
		return err
	}
	for _, jobID := range due {
		if err := q.redis.PushToList(ctx, keyWaiting, jobID); err != nil {
			return err
		}
	}
	return nil
}

// complete acks a job and records it under the completed retention window
func (q *Queue) complete(ctx context.Context, job *Job) error {
	if err := q.redis.RemoveFromList(ctx, keyProcessing, 1, job.ID); err != nil {
		return err
	}
	if err := q.redis.Delete(ctx, keyJobPrefix+job.ID); err != nil {
		return err
	}
	if err := q.redis.PushToList(ctx, keyCompleted, job.RunID.String()); err != nil {
		return err
	}
	return q.redis.TrimList(ctx, keyCompleted, 0, int64(q.cfg.KeepCompleted)-1)
}

// fail moves a job to the failed retention window
func (q *Queue) fail(ctx context.Context, job *Job) error {
	if err := q.redis.RemoveFromList(ctx, keyProcessing, 1, job.ID); err != nil {
		return err
	}
	if err := q.redis.Delete(ctx, keyJobPrefix+job.ID); err != nil {
		return err
	}
	if err := q.redis.PushToList(ctx, keyFailed, job.RunID.String()); err != nil {
		return err
	}
	return q.redis.TrimList(ctx, keyFailed, 0, int64(q.cfg.KeepFailed)-1)
}

// retry requeues a job through the delayed set with exponential backoff:
// delay = base * 2^(attempt-1)
func (q *Queue) retry(ctx context.Context, job *Job) error {
	if err := q.redis.RemoveFromList(ctx, keyProcessing, 1, job.ID); err != nil {
		return err
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	delay := job.BackoffBase << (job.Attempts - 1)
	return q.redis.AddToDelayed(ctx, keyDelayed, job.ID, time.Now().Add(delay))
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	fields := map[string]interface{}{
		"run_id":       job.RunID.String(),
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"backoff_ms":   job.BackoffBase.Milliseconds(),
		"enqueued_at":  job.EnqueuedAt.Format(time.RFC3339Nano),
	}
	if err := q.redis.SetHash(ctx, keyJobPrefix+job.ID, fields); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.redis.GetAllHash(ctx, keyJobPrefix+jobID)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job record missing: %s", jobID)
	}

	runID, err := uuid.Parse(fields["run_id"])
	if err != nil {
		return nil, fmt.Errorf("job %s has invalid run id: %w", jobID, err)
	}

	job := &Job{ID: jobID, RunID: runID}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		job.BackoffBase = time.Duration(ms) * time.Millisecond
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["enqueued_at"]); err == nil {
		job.EnqueuedAt = t
	}

	return job, nil
}
