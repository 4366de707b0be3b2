package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/signals"
)

type jobQueueStatsProvider interface {
	JobQueueStats(ctx context.Context) (database.JobQueueStats, error)
}

type dbStatsProvider interface {
	DBStats() sql.DBStats
}

type adminHealthResponse struct {
	Status    string              `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Queue     adminHealthQueue    `json:"queue"`
	Workers   adminHealthWorkers  `json:"workers"`
	Receivers map[string][]string `json:"receivers"`
	Database  adminHealthDatabase `json:"database"`
	Errors    []string            `json:"errors,omitempty"`
}

type adminHealthQueue struct {
	Depth                 int64   `json:"depth"`
	InProgress            int64   `json:"in_progress"`
	Failed                int64   `json:"failed"`
	OldestQueuedAgeSecond float64 `json:"oldest_queued_age_seconds"`
}

type adminHealthWorkers struct {
	Configured int      `json:"configured"`
	Active     int      `json:"active"`
	Tasks      []string `json:"tasks"`
}

type adminHealthDatabase struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDurationMS  int64 `json:"wait_duration_ms"`
	MaxIdleClosed   int64 `json:"max_idle_closed"`
	MaxLifetime     int64 `json:"max_lifetime_closed"`
	MaxIdleTime     int64 `json:"max_idle_time_closed"`
}

var healthEntities = []signals.Entity{
	signals.EntityReleaseMarker,
	signals.EntityRelease,
	signals.EntityCommit,
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	resp := adminHealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Workers: adminHealthWorkers{
			Configured: s.opts.Workers,
			Tasks:      append([]string{}, s.opts.Tasks...),
		},
		Receivers: make(map[string][]string, len(healthEntities)),
	}
	for _, entity := range healthEntities {
		keys := s.opts.Dispatcher.Keys(entity)
		if keys == nil {
			keys = []string{}
		}
		resp.Receivers[string(entity)] = keys
	}

	if queueProvider, ok := s.db.(jobQueueStatsProvider); ok {
		stats, err := queueProvider.JobQueueStats(r.Context())
		if err != nil {
			s.logger.Error("job queue stats", "error", err)
			resp.Errors = append(resp.Errors, "job_queue_stats")
		} else {
			resp.Queue.Depth = stats.Queued
			resp.Queue.InProgress = stats.InProgress
			resp.Queue.Failed = stats.Failed
			if stats.OldestQueuedAt != nil {
				age := time.Since(stats.OldestQueuedAt.UTC()).Seconds()
				if age < 0 {
					age = 0
				}
				resp.Queue.OldestQueuedAgeSecond = age
			}
		}
	}

	if poolProvider, ok := s.db.(dbStatsProvider); ok {
		stats := poolProvider.DBStats()
		resp.Database = adminHealthDatabase{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			WaitDurationMS:  stats.WaitDuration.Milliseconds(),
			MaxIdleClosed:   stats.MaxIdleClosed,
			MaxLifetime:     stats.MaxLifetimeClosed,
			MaxIdleTime:     stats.MaxIdleTimeClosed,
		}
	}

	resp.Workers.Active = int(resp.Queue.InProgress)
	if len(resp.Errors) > 0 {
		resp.Status = "degraded"
		jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleAdminJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := s.db.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get job", "job_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, job)
}
