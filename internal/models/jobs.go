package models

import "time"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is a persisted unit of deferred work, executed by the worker pool for
// the processor registered under TaskName.
type Job struct {
	ID            int64          `json:"id"`
	UID           string         `json:"uid"`
	TaskName      string         `json:"task_name"`
	Params        map[string]any `json:"params,omitempty"`
	Status        JobStatus      `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	MaxAttempts   int            `json:"max_attempts"`
	LastError     string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Int64Param reads an integer parameter. JSON round trips decode numbers as
// float64, so both representations are accepted.
func (j *Job) Int64Param(name string) (int64, bool) {
	if j == nil || j.Params == nil {
		return 0, false
	}
	switch v := j.Params[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
