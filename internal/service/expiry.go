package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

// TaskClearExpiredResolutions is the job that settles pending "next release"
// resolutions once a newer release exists.
const TaskClearExpiredResolutions = "clear_expired_resolutions"

// Enqueuer schedules background work. jobs.Queue satisfies it.
type Enqueuer interface {
	EnqueueAfter(ctx context.Context, taskName string, params map[string]any, delay time.Duration) (*models.Job, error)
}

// ResolutionExpiryTrigger schedules one sweep for each newly created release.
type ResolutionExpiryTrigger struct {
	enqueuer Enqueuer
	logger   *slog.Logger
	metrics  *receiverMetrics
	// delay holds the sweep back until the reconciler that created the
	// release has linked its project.
	delay time.Duration
}

func NewResolutionExpiryTrigger(enqueuer Enqueuer, logger *slog.Logger) *ResolutionExpiryTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolutionExpiryTrigger{enqueuer: enqueuer, logger: logger}
}

// HandleRelease never fails the triggering write: delivery of the sweep is the
// job system's concern, so enqueue errors are only logged.
func (t *ResolutionExpiryTrigger) HandleRelease(ctx context.Context, ev signals.Event) error {
	if !ev.Created {
		return nil
	}
	release, ok := ev.Instance.(*models.Release)
	if !ok || release == nil {
		return fmt.Errorf("resolution expiry trigger: unexpected instance %T", ev.Instance)
	}

	job, err := t.enqueuer.EnqueueAfter(ctx, TaskClearExpiredResolutions, map[string]any{"release_id": release.ID}, t.delay)
	if err != nil {
		t.metrics.observe(receiverExpiry, "enqueue_failed")
		t.logger.Error("enqueue resolution sweep failed", "release_id", release.ID, "error", err)
		return nil
	}
	t.metrics.observe(receiverExpiry, "enqueued")
	t.logger.Debug("resolution sweep enqueued", "release_id", release.ID, "job_uid", job.UID)
	return nil
}
