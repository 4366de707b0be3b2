package database

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/odvcencio/gotrack/internal/models"
)

func TestJobDialectBind(t *testing.T) {
	query := `UPDATE jobs SET params = ?::jsonb WHERE id = ? AND status = ?`

	if got := sqliteJobDialect.bind(query); got != query {
		t.Fatalf("sqlite bind = %q, want unchanged", got)
	}
	want := `UPDATE jobs SET params = $1::jsonb WHERE id = $2 AND status = $3`
	if got := postgresJobDialect.bind(query); got != want {
		t.Fatalf("postgres bind = %q, want %q", got, want)
	}
}

func TestJobStatementsMatchClaimArgs(t *testing.T) {
	for name, d := range map[string]jobDialect{"sqlite": sqliteJobDialect, "postgres": postgresJobDialect} {
		if got := strings.Count(d.claim, "?"); got != len(d.claimArgs) {
			t.Fatalf("%s claim placeholders = %d, want %d", name, got, len(d.claimArgs))
		}
	}
	if got := jobColumns("j."); !strings.HasPrefix(got, "j.id, j.uid,") || strings.Count(got, "j.") != len(jobColumnNames) {
		t.Fatalf("jobColumns(j.) = %q", got)
	}
}

func TestSQLiteCompleteJobRequiresInProgress(t *testing.T) {
	ctx, db := openTestSQLite(t)

	job := &models.Job{UID: "job-complete", TaskName: "clear_expired_resolutions"}
	if err := db.EnqueueJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if job.MaxAttempts != defaultJobMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want default %d", job.MaxAttempts, defaultJobMaxAttempts)
	}
	if err := db.CompleteJob(ctx, job.ID, models.JobCompleted, ""); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("CompleteJob(queued) error = %v, want sql.ErrNoRows", err)
	}
	if err := db.CompleteJob(ctx, job.ID, models.JobQueued, ""); err == nil {
		t.Fatal("CompleteJob(queued status) error = nil, want unsupported status")
	}
	if err := db.RequeueJob(ctx, job.ID, "", job.NextAttemptAt); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("RequeueJob(queued) error = %v, want sql.ErrNoRows", err)
	}

	claimed, err := db.ClaimJob(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob() = %+v, %v", claimed, err)
	}
	if err := db.CompleteJob(ctx, claimed.ID, models.JobFailed, "  "); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.JobFailed || got.LastError != "job failed" || got.CompletedAt == nil {
		t.Fatalf("GetJob() = %s %q completed=%v, want failed with default error", got.Status, got.LastError, got.CompletedAt)
	}
}
