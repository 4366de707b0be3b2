package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/models"
)

func TestQueueEnqueueClaimAndComplete(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{MaxAttempts: 2})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "clear_expired_resolutions", map[string]any{"release_id": int64(12)})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID == 0 {
		t.Fatal("expected persisted job id")
	}
	if job.UID == "" {
		t.Fatal("expected generated job uid")
	}
	if job.Status != models.JobQueued {
		t.Fatalf("expected queued status, got %q", job.Status)
	}
	if job.MaxAttempts != 2 {
		t.Fatalf("max attempts = %d, want 2", job.MaxAttempts)
	}

	claimed, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil {
		t.Fatal("expected claimed job")
	}
	if claimed.ID != job.ID {
		t.Fatalf("expected claimed id %d, got %d", job.ID, claimed.ID)
	}
	if claimed.Status != models.JobInProgress {
		t.Fatalf("expected in_progress status, got %q", claimed.Status)
	}
	if id, ok := claimed.Int64Param("release_id"); !ok || id != 12 {
		t.Fatalf("release_id param = %d, %v, want 12, true", id, ok)
	}

	if err := q.Complete(ctx, claimed.ID); err != nil {
		t.Fatal(err)
	}
	status, err := q.Status(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status == nil || status.Status != models.JobCompleted {
		t.Fatalf("expected completed status, got %+v", status)
	}
}

func TestQueueEnqueueGeneratesDistinctUIDs(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{})

	ctx := context.Background()
	first, err := q.Enqueue(ctx, "clear_expired_resolutions", map[string]any{"release_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Enqueue(ctx, "clear_expired_resolutions", map[string]any{"release_id": 1})
	if err != nil {
		t.Fatal(err)
	}
	if first.UID == second.UID || first.ID == second.ID {
		t.Fatalf("expected two distinct jobs, got %s/%d and %s/%d", first.UID, first.ID, second.UID, second.ID)
	}
}

func TestQueueEnqueueRequiresTaskName(t *testing.T) {
	q := NewQueue(setupQueueTestDB(t), QueueOptions{})
	if _, err := q.Enqueue(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty task name")
	}
}

func TestQueueRetryOrFailTransitions(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{RetryDelay: 5 * time.Millisecond, MaxAttempts: 2})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "clear_expired_resolutions", nil)
	if err != nil {
		t.Fatal(err)
	}

	first, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("expected first claim")
	}
	if err := q.RetryOrFail(ctx, first, errors.New("temporary")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)
	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == nil {
		t.Fatal("expected second claim after retry delay")
	}
	if second.AttemptCount != 2 {
		t.Fatalf("expected attempt_count 2, got %d", second.AttemptCount)
	}
	if err := q.RetryOrFail(ctx, second, errors.New("terminal")); err != nil {
		t.Fatal(err)
	}

	status, err := q.Status(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status == nil {
		t.Fatal("expected persisted status")
	}
	if status.Status != models.JobFailed {
		t.Fatalf("expected failed status, got %q", status.Status)
	}
	if status.LastError != "terminal" {
		t.Fatalf("expected terminal error message, got %q", status.LastError)
	}
}

func TestQueueStatusMissingJob(t *testing.T) {
	q := NewQueue(setupQueueTestDB(t), QueueOptions{})
	status, err := q.Status(context.Background(), 404)
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Fatalf("Status(404) = %+v, want nil", status)
	}
}

func TestQueueEnqueueAfterHoldsJobBack(t *testing.T) {
	db := setupQueueTestDB(t)
	q := NewQueue(db, QueueOptions{})
	ctx := context.Background()

	later, err := q.EnqueueAfter(ctx, "clear_expired_resolutions", map[string]any{"release_id": int64(1)}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !later.NextAttemptAt.After(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("NextAttemptAt = %v, want about an hour out", later.NextAttemptAt)
	}
	if job, err := q.Claim(ctx); err != nil || job != nil {
		t.Fatalf("Claim() = %+v, %v, want nothing due", job, err)
	}

	now, err := q.EnqueueAfter(ctx, "clear_expired_resolutions", map[string]any{"release_id": int64(2)}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != now.ID {
		t.Fatalf("Claim() = %+v, want job %d", job, now.ID)
	}
}

func setupQueueTestDB(t *testing.T) database.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return db
}
