package database

import "time"

// JobQueueStats summarizes job queue status for health and observability endpoints.
type JobQueueStats struct {
	Queued         int64
	InProgress     int64
	Failed         int64
	OldestQueuedAt *time.Time
}
