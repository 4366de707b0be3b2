package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkerPoolProcessesJobs(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{RetryDelay: 5 * time.Millisecond, MaxAttempts: 2})

	job, err := q.Enqueue(context.Background(), "clear_expired_resolutions", map[string]any{"release_id": int64(3)})
	if err != nil {
		t.Fatal(err)
	}

	var processed atomic.Int32
	router := NewRouter()
	router.Handle("clear_expired_resolutions", func(ctx context.Context, claimed *models.Job) error {
		if claimed == nil {
			return errors.New("claimed job is nil")
		}
		if id, ok := claimed.Int64Param("release_id"); !ok || id != 3 {
			return errors.New("unexpected release id")
		}
		processed.Add(1)
		return nil
	})
	reg := prometheus.NewRegistry()
	pool := NewWorkerPool(q, router.Process, WorkerPoolOptions{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
		Registerer:   reg,
	})
	startPool(t, pool)

	waitForJobStatus(t, q, job.ID, models.JobCompleted, 2*time.Second)
	if got := processed.Load(); got != 1 {
		t.Fatalf("processed count = %d, want 1", got)
	}
	if got := testutil.ToFloat64(pool.metrics.processedTotal.WithLabelValues("clear_expired_resolutions", "completed")); got != 1 {
		t.Fatalf("processed_total{completed} = %v, want 1", got)
	}
}

func TestWorkerPoolRetriesAndFailsAfterMaxAttempts(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{RetryDelay: 5 * time.Millisecond, MaxAttempts: 2})

	job, err := q.Enqueue(context.Background(), "flaky", nil)
	if err != nil {
		t.Fatal(err)
	}

	var attempts atomic.Int32
	pool := NewWorkerPool(q, func(ctx context.Context, claimed *models.Job) error {
		attempts.Add(1)
		return errors.New("boom")
	}, WorkerPoolOptions{
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	startPool(t, pool)

	status := waitForJobStatus(t, q, job.ID, models.JobFailed, 3*time.Second)
	if got := attempts.Load(); got < 2 {
		t.Fatalf("attempts = %d, want >= 2", got)
	}
	if status.AttemptCount != 2 {
		t.Fatalf("attempt count = %d, want 2", status.AttemptCount)
	}
	if !strings.Contains(status.LastError, "boom") {
		t.Fatalf("last error = %q, want to contain boom", status.LastError)
	}
}

func TestWorkerPoolFailsUnknownTaskWithoutRetry(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{RetryDelay: 5 * time.Millisecond, MaxAttempts: 5})

	job, err := q.Enqueue(context.Background(), "unregistered", nil)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(q, NewRouter().Process, WorkerPoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond})
	startPool(t, pool)

	status := waitForJobStatus(t, q, job.ID, models.JobFailed, 2*time.Second)
	if status.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", status.AttemptCount)
	}
	if !strings.Contains(status.LastError, "unregistered") {
		t.Fatalf("last error = %q, want task name", status.LastError)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{RetryDelay: 5 * time.Millisecond, MaxAttempts: 1})

	job, err := q.Enqueue(context.Background(), "panics", nil)
	if err != nil {
		t.Fatal(err)
	}
	pool := NewWorkerPool(q, func(context.Context, *models.Job) error {
		panic("kaboom")
	}, WorkerPoolOptions{Workers: 1, PollInterval: 5 * time.Millisecond})
	startPool(t, pool)

	status := waitForJobStatus(t, q, job.ID, models.JobFailed, 2*time.Second)
	if !strings.Contains(status.LastError, "kaboom") {
		t.Fatalf("last error = %q, want panic message", status.LastError)
	}
}

func TestRouterTasksAndPermanent(t *testing.T) {
	r := NewRouter()
	r.Handle("b", func(context.Context, *models.Job) error { return nil })
	r.Handle("a", func(context.Context, *models.Job) error { return nil })
	if got := strings.Join(r.Tasks(), ","); got != "a,b" {
		t.Fatalf("Tasks() = %q, want a,b", got)
	}
	if err := r.Process(context.Background(), &models.Job{TaskName: "missing"}); !errors.Is(err, ErrPermanent) {
		t.Fatalf("Process(missing) error = %v, want ErrPermanent", err)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestWorkerPoolStartRequiresProcessor(t *testing.T) {
	pool := NewWorkerPool(NewQueue(setupQueueTestDB(t), QueueOptions{}), nil, WorkerPoolOptions{})
	if err := pool.Start(context.Background()); err == nil {
		t.Fatal("expected error when processor is nil")
	}
}

func startPool(t *testing.T, pool *WorkerPool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := pool.Start(ctx); err != nil {
		cancel()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		if err := pool.Stop(stopCtx); err != nil {
			t.Errorf("stop worker pool: %v", err)
		}
		cancel()
	})
}

func waitForJobStatus(t *testing.T, q *Queue, jobID int64, want models.JobStatus, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := q.Status(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if status != nil && status.Status == want {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q", want)
	return nil
}
