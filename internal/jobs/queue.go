package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/odvcencio/gotrack/internal/models"
)

const (
	defaultRetryDelay = 5 * time.Second
	defaultMaxRetries = 3
)

// Store is the slice of the database the queue needs.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimJob(ctx context.Context) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID int64, status models.JobStatus, errMsg string) error
	RequeueJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
}

// Queue persists background jobs and their status transitions in the database.
// Delivery is at least once: a job that fails is retried until MaxAttempts.
type Queue struct {
	db          Store
	retryDelay  time.Duration
	maxAttempts int
}

type QueueOptions struct {
	RetryDelay  time.Duration
	MaxAttempts int
}

func NewQueue(db Store, opts QueueOptions) *Queue {
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxRetries
	}
	return &Queue{
		db:          db,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
	}
}

// Enqueue schedules taskName to run with params as soon as a worker is free.
func (q *Queue) Enqueue(ctx context.Context, taskName string, params map[string]any) (*models.Job, error) {
	return q.EnqueueAfter(ctx, taskName, params, 0)
}

// EnqueueAfter schedules taskName so that no worker claims it before delay
// has passed.
func (q *Queue) EnqueueAfter(ctx context.Context, taskName string, params map[string]any, delay time.Duration) (*models.Job, error) {
	if strings.TrimSpace(taskName) == "" {
		return nil, fmt.Errorf("task name is required")
	}
	job := &models.Job{
		UID:           uuid.NewString(),
		TaskName:      taskName,
		Params:        params,
		Status:        models.JobQueued,
		MaxAttempts:   q.maxAttempts,
		NextAttemptAt: time.Now().Add(max(delay, 0)).UTC(),
	}
	if err := q.db.EnqueueJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", taskName, err)
	}
	return job, nil
}

func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	return q.db.ClaimJob(ctx)
}

func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	return q.db.CompleteJob(ctx, jobID, models.JobCompleted, "")
}

func (q *Queue) Fail(ctx context.Context, jobID int64, runErr error) error {
	return q.db.CompleteJob(ctx, jobID, models.JobFailed, failureMessage(runErr))
}

func (q *Queue) RetryOrFail(ctx context.Context, job *models.Job, runErr error) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	message := failureMessage(runErr)
	if job.MaxAttempts > 0 && job.AttemptCount >= job.MaxAttempts {
		return q.db.CompleteJob(ctx, job.ID, models.JobFailed, message)
	}
	nextAttempt := time.Now().UTC().Add(q.retryDelay)
	return q.db.RequeueJob(ctx, job.ID, message, nextAttempt)
}

// Status returns the stored job, or nil when no job has that id.
func (q *Queue) Status(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := q.db.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func failureMessage(err error) string {
	if err == nil {
		return "job failed"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "job failed"
	}
	return msg
}
