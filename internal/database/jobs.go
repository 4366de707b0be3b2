package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
)

const defaultJobMaxAttempts = 3

// jobDialect holds what differs between backends for the jobs table. Shared
// statements are written with ? placeholders and bound per dialect.
type jobDialect struct {
	numbered  bool   // $1 placeholders instead of ?
	now       string // current-time expression
	timeParam string // placeholder wrapper for a timestamp argument
	jsonParam string // placeholder wrapper for a JSON argument
	timestamp func(time.Time) any

	// claim marks the next due job in progress and returns it. claimArgs are
	// listed in the order their placeholders appear in claim.
	claim     string
	claimArgs []any
}

var sqliteJobDialect = jobDialect{
	now:       "CURRENT_TIMESTAMP",
	timeParam: "datetime(?)",
	jsonParam: "?",
	timestamp: func(t time.Time) any { return sqliteTimestamp(t) },
	// SQLite serializes writers, so the subquery cannot hand one row to two
	// claimers; the outer status check keeps the update a no-op if it did.
	claim: `UPDATE jobs
		 SET status = ?, attempt_count = attempt_count + 1,
			 started_at = CURRENT_TIMESTAMP, completed_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND id = (
			 SELECT id FROM jobs
			 WHERE status = ? AND datetime(next_attempt_at) <= CURRENT_TIMESTAMP
			 ORDER BY next_attempt_at, id
			 LIMIT 1
		 )
		 RETURNING ` + jobColumns(""),
	claimArgs: []any{models.JobInProgress, models.JobQueued, models.JobQueued},
}

var postgresJobDialect = jobDialect{
	numbered:  true,
	now:       "NOW()",
	timeParam: "?",
	jsonParam: "?::jsonb",
	timestamp: func(t time.Time) any { return t.UTC() },
	claim: `WITH due AS (
			 SELECT id FROM jobs
			 WHERE status = ? AND next_attempt_at <= NOW()
			 ORDER BY next_attempt_at, id
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED
		 )
		 UPDATE jobs j
		 SET status = ?, attempt_count = j.attempt_count + 1,
			 started_at = NOW(), completed_at = NULL, updated_at = NOW()
		 FROM due
		 WHERE j.id = due.id
		 RETURNING ` + jobColumns("j."),
	claimArgs: []any{models.JobQueued, models.JobInProgress},
}

type jobStatements struct {
	enqueue    string
	claim      string
	complete   string
	exhaust    string
	retry      string
	selectByID string
	selectUID  string
	listByTask string
}

// jobStore implements the job methods of DB. Both backends embed it.
type jobStore struct {
	db      *sql.DB
	dialect jobDialect
	stmts   jobStatements
}

func newJobStore(db *sql.DB, d jobDialect) jobStore {
	sel := `SELECT ` + jobColumns("") + ` FROM jobs`
	return jobStore{
		db:      db,
		dialect: d,
		stmts: jobStatements{
			enqueue: d.bind(`INSERT INTO jobs (uid, task_name, params, status, max_attempts, next_attempt_at)
				 VALUES (?, ?, ` + d.jsonParam + `, ?, ?, ` + d.timeParam + `)
				 ON CONFLICT (uid) DO NOTHING`),
			claim: d.bind(d.claim),
			complete: d.bind(`UPDATE jobs
				 SET status = ?, last_error = ?, completed_at = ` + d.now + `, updated_at = ` + d.now + `
				 WHERE id = ? AND status = ?`),
			exhaust: d.bind(`UPDATE jobs
				 SET status = ?, last_error = ?, started_at = NULL,
					 completed_at = ` + d.now + `, updated_at = ` + d.now + `
				 WHERE id = ? AND status = ? AND attempt_count >= max_attempts`),
			retry: d.bind(`UPDATE jobs
				 SET status = ?, last_error = ?, next_attempt_at = ` + d.timeParam + `,
					 started_at = NULL, updated_at = ` + d.now + `
				 WHERE id = ? AND status = ?`),
			selectByID: d.bind(sel + ` WHERE id = ?`),
			selectUID:  d.bind(sel + ` WHERE uid = ?`),
			listByTask: d.bind(sel + ` WHERE task_name = ? ORDER BY id`),
		},
	}
}

func (d jobDialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// EnqueueJob persists a queued job. Enqueueing a UID that already exists is a
// no-op that loads the stored job into job.
func (s jobStore) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.UID) == "" || strings.TrimSpace(job.TaskName) == "" {
		return fmt.Errorf("job uid and task name are required")
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultJobMaxAttempts
	}
	due := job.NextAttemptAt
	if due.IsZero() {
		due = time.Now()
	}
	params, err := encodeData(job.Params)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.stmts.enqueue,
		job.UID, job.TaskName, params, models.JobQueued, maxAttempts, s.dialect.timestamp(due),
	); err != nil {
		return fmt.Errorf("insert job %s: %w", job.UID, err)
	}
	stored, err := scanJob(s.db.QueryRowContext(ctx, s.stmts.selectUID, job.UID))
	if err != nil {
		return fmt.Errorf("load job %s: %w", job.UID, err)
	}
	*job = *stored
	return nil
}

// ClaimJob returns nil, nil when no job is due.
func (s jobStore) ClaimJob(ctx context.Context) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, s.stmts.claim, s.dialect.claimArgs...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// CompleteJob moves an in-progress job to a terminal status. It returns
// sql.ErrNoRows when the job is not in progress.
func (s jobStore) CompleteJob(ctx context.Context, jobID int64, status models.JobStatus, errMsg string) error {
	var lastError string
	switch status {
	case models.JobCompleted:
	case models.JobFailed:
		lastError = jobErrorText(errMsg)
	default:
		return fmt.Errorf("unsupported terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.complete, status, lastError, jobID, models.JobInProgress)
	return oneRowAffected(res, err)
}

// RequeueJob records a failed attempt. Jobs with attempts left go back to the
// queue at nextAttemptAt; exhausted jobs fail.
func (s jobStore) RequeueJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error {
	lastError := jobErrorText(errMsg)
	if nextAttemptAt.IsZero() {
		nextAttemptAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.stmts.exhaust, models.JobFailed, lastError, jobID, models.JobInProgress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		res, err = tx.ExecContext(ctx, s.stmts.retry,
			models.JobQueued, lastError, s.dialect.timestamp(nextAttemptAt), jobID, models.JobInProgress)
		if err := oneRowAffected(res, err); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s jobStore) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, s.stmts.selectByID, jobID))
}

func (s jobStore) ListJobs(ctx context.Context, taskName string) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.stmts.listByTask, taskName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func jobErrorText(msg string) string {
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	return "job failed"
}

func oneRowAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

var jobColumnNames = []string{
	"id", "uid", "task_name", "params", "status", "attempt_count", "max_attempts",
	"last_error", "next_attempt_at", "created_at", "updated_at", "started_at", "completed_at",
}

// jobColumns lists the columns scanJob expects, each qualified with prefix.
func jobColumns(prefix string) string {
	cols := make([]string, len(jobColumnNames))
	for i, c := range jobColumnNames {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job       models.Job
		params    []byte
		status    string
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := row.Scan(
		&job.ID, &job.UID, &job.TaskName, &params, &status, &job.AttemptCount, &job.MaxAttempts,
		&job.LastError, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt, &started, &completed,
	); err != nil {
		return nil, err
	}
	data, err := decodeData(params)
	if err != nil {
		return nil, err
	}
	job.Params = data
	job.Status = models.JobStatus(status)
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.StartedAt = nullTimePtr(started)
	job.CompletedAt = nullTimePtr(completed)
	return &job, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// sqliteTimestamp matches the text form of CURRENT_TIMESTAMP so that string
// comparisons in SQLite order correctly.
func sqliteTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
