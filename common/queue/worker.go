package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veilflow/veilflow/common/metrics"
)

// Executor runs one claimed job. Implemented by the workflow engine.
type Executor interface {
	Execute(ctx context.Context, runID uuid.UUID) error
}

// Fatal marks errors the worker must not retry
type Fatal interface {
	Retryable() bool
}

// Abandoner finalizes the run behind a job the queue is giving up on.
// Implemented by the workflow engine; optional for other executors.
type Abandoner interface {
	Abandon(ctx context.Context, runID uuid.UUID, cause error)
}

const claimInterval = 250 * time.Millisecond

// StartWorkers runs a pool of workers until the context is cancelled.
// Each worker claims jobs exclusively and invokes the executor; work
// across runs is concurrent up to the pool size, while a single job is
// only ever held by one worker.
func (q *Queue) StartWorkers(ctx context.Context, concurrency int, exec Executor) {
	if concurrency <= 0 {
		concurrency = 5
	}

	q.log.Info("starting queue workers", "concurrency", concurrency)

	var wg sync.WaitGroup

	// Promoter: moves due delayed jobs onto the waiting list and samples
	// queue depth
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(claimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
					q.log.Error("failed to promote delayed jobs", "error", err)
				}
				if depth, err := q.Depth(ctx); err == nil {
					metrics.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.workerLoop(ctx, worker, exec)
		}(i)
	}

	wg.Wait()
	q.log.Info("queue workers stopped")
}

func (q *Queue) workerLoop(ctx context.Context, worker int, exec Executor) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				q.log.Error("failed to claim job", "worker", worker, "error", err)
			}
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			sleep(ctx, claimInterval)
			continue
		}

		q.handle(ctx, worker, job, exec)
	}
}

func (q *Queue) handle(ctx context.Context, worker int, job *Job, exec Executor) {
	job.Attempts++
	q.log.Debug("job claimed",
		"worker", worker,
		"job_id", job.ID,
		"run_id", job.RunID,
		"attempt", job.Attempts)

	execErr := exec.Execute(ctx, job.RunID)
	if execErr == nil {
		if err := q.complete(ctx, job); err != nil {
			q.log.Error("failed to ack job", "job_id", job.ID, "error", err)
		}
		return
	}

	if !isRetryable(execErr) {
		q.log.Warn("job failed permanently",
			"job_id", job.ID,
			"run_id", job.RunID,
			"error", execErr)
		if err := q.fail(ctx, job); err != nil {
			q.log.Error("failed to park job", "job_id", job.ID, "error", err)
		}
		return
	}

	if job.Attempts >= job.MaxAttempts {
		q.log.Warn("job exhausted attempts",
			"job_id", job.ID,
			"run_id", job.RunID,
			"attempts", job.Attempts,
			"error", execErr)
		if abandoner, ok := exec.(Abandoner); ok {
			abandoner.Abandon(ctx, job.RunID, execErr)
		}
		if err := q.fail(ctx, job); err != nil {
			q.log.Error("failed to park job", "job_id", job.ID, "error", err)
		}
		return
	}

	metrics.JobRetries.Inc()
	q.log.Info("job requeued with backoff",
		"job_id", job.ID,
		"run_id", job.RunID,
		"attempt", job.Attempts,
		"error", execErr)
	if err := q.retry(ctx, job); err != nil {
		q.log.Error("failed to requeue job", "job_id", job.ID, "error", err)
	}
}

// isRetryable treats errors as retryable unless they declare otherwise
func isRetryable(err error) bool {
	var fatal Fatal
	if errors.As(err, &fatal) {
		return fatal.Retryable()
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
