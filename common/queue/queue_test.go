package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilflow/veilflow/common/logger"
	redisc "github.com/veilflow/veilflow/common/redis"
)

type fatalErr struct{ msg string }

func (e *fatalErr) Error() string   { return e.msg }
func (e *fatalErr) Retryable() bool { return false }

// stubExec returns the queued errors in order, then succeeds
type stubExec struct {
	errs  []error
	calls int
}

func (s *stubExec) Execute(ctx context.Context, runID uuid.UUID) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestQueue(t *testing.T, cfg Config) (*Queue, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	log := logger.New("error", "text")
	return New(redisc.NewClient(rc, log), cfg, log), rc
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()
	runID := uuid.New()

	jobID, err := q.Enqueue(ctx, runID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	job, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, runID, job.RunID)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 5, job.MaxAttempts)

	// The claim is exclusive
	second, err := q.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestDelayedJobPromotesWhenDue(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, uuid.New(), &Options{Delay: 20 * time.Millisecond})
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, q.promoteDue(ctx))
	depth, _ = q.Depth(ctx)
	assert.Equal(t, int64(0), depth)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, q.promoteDue(ctx))
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestTransientFailureSchedulesBackoff(t *testing.T) {
	q, rc := newTestQueue(t, Config{})
	ctx := context.Background()

	jobID, err := q.Enqueue(ctx, uuid.New(), nil)
	require.NoError(t, err)

	job, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	before := time.Now()
	q.handle(ctx, 0, job, &stubExec{errs: []error{errors.New("upstream flaked")}})

	// First retry waits at least the 5s base
	score, err := rc.ZScore(ctx, keyDelayed, jobID).Result()
	require.NoError(t, err)
	delay := time.UnixMilli(int64(score)).Sub(before)
	assert.GreaterOrEqual(t, delay, 4500*time.Millisecond)
	assert.Less(t, delay, 6*time.Second)

	// Nothing got parked as failed
	failed, err := rc.LLen(ctx, keyFailed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), failed)
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	q, rc := newTestQueue(t, Config{})
	ctx := context.Background()

	// A job already on its second delivery
	job := &Job{
		ID:          uuid.New().String(),
		RunID:       uuid.New(),
		Attempts:    1,
		MaxAttempts: 5,
		BackoffBase: 5 * time.Second,
		EnqueuedAt:  time.Now().UTC(),
	}
	require.NoError(t, q.saveJob(ctx, job))
	require.NoError(t, q.redis.PushToList(ctx, keyWaiting, job.ID))

	claimed, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1, claimed.Attempts)

	before := time.Now()
	q.handle(ctx, 0, claimed, &stubExec{errs: []error{errors.New("still flaking")}})

	// Second retry waits at least 2x the base
	score, err := rc.ZScore(ctx, keyDelayed, job.ID).Result()
	require.NoError(t, err)
	delay := time.UnixMilli(int64(score)).Sub(before)
	assert.GreaterOrEqual(t, delay, 9500*time.Millisecond)
}

func TestFatalErrorParksJobImmediately(t *testing.T) {
	q, rc := newTestQueue(t, Config{})
	ctx := context.Background()
	runID := uuid.New()

	jobID, err := q.Enqueue(ctx, runID, nil)
	require.NoError(t, err)

	job, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	q.handle(ctx, 0, job, &stubExec{errs: []error{&fatalErr{msg: "graph invalid"}}})

	failed, err := rc.LRange(ctx, keyFailed, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{runID.String()}, failed)

	delayed, err := rc.ZCard(ctx, keyDelayed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), delayed)

	// Job record is cleaned up
	exists, err := rc.Exists(ctx, keyJobPrefix+jobID).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestSingleAttemptJobNeverRetries(t *testing.T) {
	q, rc := newTestQueue(t, Config{})
	ctx := context.Background()
	runID := uuid.New()

	_, err := q.Enqueue(ctx, runID, &Options{Attempts: 1})
	require.NoError(t, err)

	job, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.MaxAttempts)

	// Even a retryable error must not requeue a single-attempt job
	q.handle(ctx, 0, job, &stubExec{errs: []error{errors.New("timeout")}})

	failed, err := rc.LRange(ctx, keyFailed, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{runID.String()}, failed)

	delayed, err := rc.ZCard(ctx, keyDelayed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), delayed)
}

func TestRetriedJobEventuallyCompletes(t *testing.T) {
	q, rc := newTestQueue(t, Config{BackoffBase: 5 * time.Millisecond})
	ctx := context.Background()
	runID := uuid.New()

	_, err := q.Enqueue(ctx, runID, nil)
	require.NoError(t, err)

	exec := &stubExec{errs: []error{
		errors.New("transient one"),
		errors.New("transient two"),
	}}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, q.promoteDue(ctx))
		job, err := q.claim(ctx)
		require.NoError(t, err)
		if job == nil {
			completed, err := rc.LLen(ctx, keyCompleted).Result()
			require.NoError(t, err)
			if completed > 0 {
				break
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		q.handle(ctx, 0, job, exec)
	}

	assert.Equal(t, 3, exec.calls)

	completed, err := rc.LRange(ctx, keyCompleted, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{runID.String()}, completed)

	failed, err := rc.LLen(ctx, keyFailed).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), failed)
}

// abandonExec is a stubExec that also records which runs the queue gave
// up on
type abandonExec struct {
	stubExec
	abandoned []uuid.UUID
}

func (a *abandonExec) Abandon(ctx context.Context, runID uuid.UUID, cause error) {
	a.abandoned = append(a.abandoned, runID)
}

func TestExhaustedJobAbandonsRun(t *testing.T) {
	q, rc := newTestQueue(t, Config{BackoffBase: time.Millisecond})
	ctx := context.Background()
	runID := uuid.New()

	_, err := q.Enqueue(ctx, runID, &Options{Attempts: 2})
	require.NoError(t, err)

	exec := &abandonExec{stubExec: stubExec{errs: []error{
		errors.New("transient one"),
		errors.New("transient two"),
	}}}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(exec.abandoned) == 0 {
		require.NoError(t, q.promoteDue(ctx))
		job, err := q.claim(ctx)
		require.NoError(t, err)
		if job == nil {
			time.Sleep(time.Millisecond)
			continue
		}
		q.handle(ctx, 0, job, exec)
	}

	// The second failure exhausts the cap: the run is abandoned exactly
	// once and the job parks as failed
	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, []uuid.UUID{runID}, exec.abandoned)

	failed, err := rc.LRange(ctx, keyFailed, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{runID.String()}, failed)
}

func TestFatalFailureDoesNotAbandon(t *testing.T) {
	q, _ := newTestQueue(t, Config{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, uuid.New(), nil)
	require.NoError(t, err)

	job, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Fatal errors are finalized by the executor itself before returning
	exec := &abandonExec{stubExec: stubExec{errs: []error{&fatalErr{msg: "graph invalid"}}}}
	q.handle(ctx, 0, job, exec)
	assert.Empty(t, exec.abandoned)
}

func TestCompletedRetentionIsTrimmed(t *testing.T) {
	q, rc := newTestQueue(t, Config{KeepCompleted: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, uuid.New(), nil)
		require.NoError(t, err)

		job, err := q.claim(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.complete(ctx, job))
	}

	completed, err := rc.LLen(ctx, keyCompleted).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), completed)
}
