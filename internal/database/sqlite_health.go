package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
)

func (s *SQLiteDB) JobQueueStats(ctx context.Context) (JobQueueStats, error) {
	var stats JobQueueStats
	// MIN() drops the column's declared type, so the driver hands back text.
	var oldestQueued sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS queued,
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS in_progress,
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
			 MIN(CASE WHEN status = ? THEN next_attempt_at END) AS oldest_queued_at
		 FROM jobs`,
		models.JobQueued,
		models.JobInProgress,
		models.JobFailed,
		models.JobQueued,
	).Scan(&stats.Queued, &stats.InProgress, &stats.Failed, &oldestQueued)
	if err != nil {
		return JobQueueStats{}, err
	}
	if oldestQueued.Valid {
		t, err := time.Parse("2006-01-02 15:04:05", oldestQueued.String)
		if err != nil {
			return JobQueueStats{}, fmt.Errorf("parse oldest queued time: %w", err)
		}
		stats.OldestQueuedAt = &t
	}
	return stats, nil
}

func (s *SQLiteDB) DBStats() sql.DBStats {
	return s.db.Stats()
}
