package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
)

func BenchmarkSQLiteEnqueueJob(b *testing.B) {
	ctx, db := openTestSQLite(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		job := &models.Job{
			UID:           fmt.Sprintf("job-%d", i),
			TaskName:      "clear_expired_resolutions",
			Params:        map[string]any{"release_id": i},
			MaxAttempts:   3,
			NextAttemptAt: time.Now().UTC(),
		}
		if err := db.EnqueueJob(ctx, job); err != nil {
			b.Fatalf("enqueue job: %v", err)
		}
	}
}

func BenchmarkSQLiteJobQueueStats(b *testing.B) {
	ctx, db := openTestSQLite(b)
	for i := 0; i < 512; i++ {
		job := &models.Job{
			UID:           fmt.Sprintf("seed-%d", i),
			TaskName:      "clear_expired_resolutions",
			MaxAttempts:   3,
			NextAttemptAt: time.Now().UTC(),
		}
		if err := db.EnqueueJob(ctx, job); err != nil {
			b.Fatalf("seed enqueue job: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.JobQueueStats(ctx); err != nil {
			b.Fatalf("job queue stats: %v", err)
		}
	}
}

func BenchmarkSQLiteCreateReleaseConflict(b *testing.B) {
	ctx, db := openTestSQLite(b)
	org, _ := seedOrgProject(b, ctx, db, "bench", "web")
	if _, err := db.CreateRelease(ctx, &models.Release{OrgID: org.ID, Version: "1.0.0"}); err != nil {
		b.Fatalf("seed release: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := db.CreateRelease(ctx, &models.Release{OrgID: org.ID, Version: "1.0.0"}); err != nil {
			b.Fatalf("create release: %v", err)
		}
	}
}
