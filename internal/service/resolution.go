package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/jobs"
	"github.com/odvcencio/gotrack/internal/models"
)

type ResolutionService struct {
	db     database.DB
	logger *slog.Logger
}

func NewResolutionService(db database.DB, logger *slog.Logger) *ResolutionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolutionService{db: db, logger: logger}
}

// ClearExpired resolves pending "next release" resolutions on older releases
// that share a project with releaseID. A release that no longer exists is a
// no-op.
func (s *ResolutionService) ClearExpired(ctx context.Context, releaseID int64) ([]models.Resolution, error) {
	release, err := s.db.GetReleaseByID(ctx, releaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("resolution sweep skipped, release missing", "release_id", releaseID)
			return nil, nil
		}
		return nil, fmt.Errorf("get release %d: %w", releaseID, err)
	}
	resolved, err := s.db.ResolveExpiredResolutions(ctx, release)
	if err != nil {
		return nil, fmt.Errorf("resolve expired resolutions for release %d: %w", releaseID, err)
	}
	if len(resolved) > 0 {
		s.logger.Info("expired resolutions cleared", "release_id", releaseID, "version", release.Version, "resolved", len(resolved))
	}
	return resolved, nil
}

// ProcessJob runs a clear_expired_resolutions job.
func (s *ResolutionService) ProcessJob(ctx context.Context, job *models.Job) error {
	releaseID, ok := job.Int64Param("release_id")
	if !ok {
		return jobs.Permanent(fmt.Errorf("job %d: missing release_id", job.ID))
	}
	_, err := s.ClearExpired(ctx, releaseID)
	return err
}
