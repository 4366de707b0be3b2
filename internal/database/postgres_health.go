package database

import (
	"context"
	"database/sql"

	"github.com/odvcencio/gotrack/internal/models"
)

func (p *PostgresDB) JobQueueStats(ctx context.Context) (JobQueueStats, error) {
	var stats JobQueueStats
	var oldestQueued sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT
			 COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0) AS queued,
			 COALESCE(SUM(CASE WHEN status = $2 THEN 1 ELSE 0 END), 0) AS in_progress,
			 COALESCE(SUM(CASE WHEN status = $3 THEN 1 ELSE 0 END), 0) AS failed,
			 MIN(CASE WHEN status = $1 THEN next_attempt_at END) AS oldest_queued_at
		 FROM jobs`,
		models.JobQueued,
		models.JobInProgress,
		models.JobFailed,
	).Scan(&stats.Queued, &stats.InProgress, &stats.Failed, &oldestQueued)
	if err != nil {
		return JobQueueStats{}, err
	}
	if oldestQueued.Valid {
		t := oldestQueued.Time.UTC()
		stats.OldestQueuedAt = &t
	}
	return stats, nil
}

func (p *PostgresDB) DBStats() sql.DBStats {
	return p.db.Stats()
}
