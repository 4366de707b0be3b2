package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

type ReleaseService struct {
	db database.DB
}

func NewReleaseService(db database.DB) *ReleaseService {
	return &ReleaseService{db: db}
}

// CreateOrFetch inserts the release for (orgID, version). When another writer
// got there first, the stored release is reread and its date_added is
// overwritten with dateAdded. No locks are taken; the unique constraint on
// (org_id, version) decides the winner.
func (s *ReleaseService) CreateOrFetch(ctx context.Context, orgID int64, version string, dateAdded time.Time) (*models.Release, database.CreateResult, error) {
	release := &models.Release{OrgID: orgID, Version: version, DateAdded: dateAdded}
	res, err := s.db.CreateRelease(ctx, release)
	if err != nil {
		return nil, 0, fmt.Errorf("create release %q: %w", version, err)
	}
	if res == database.Created {
		return release, res, nil
	}

	existing, err := s.db.GetRelease(ctx, orgID, version)
	if err != nil {
		return nil, 0, fmt.Errorf("get release %q: %w", version, err)
	}
	if err := s.db.UpdateReleaseDateAdded(ctx, existing, dateAdded); err != nil {
		return nil, 0, fmt.Errorf("update release %d date: %w", existing.ID, err)
	}
	return existing, database.Existing, nil
}

// ReleaseReconciler makes sure every observed release marker has a matching
// release linked to the marker's project.
type ReleaseReconciler struct {
	db       database.DB
	releases *ReleaseService
	logger   *slog.Logger
	metrics  *receiverMetrics
}

func NewReleaseReconciler(db database.DB, logger *slog.Logger) *ReleaseReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseReconciler{db: db, releases: NewReleaseService(db), logger: logger}
}

func (r *ReleaseReconciler) HandleMarker(ctx context.Context, ev signals.Event) error {
	marker, ok := ev.Instance.(*models.ReleaseMarker)
	if !ok || marker == nil {
		return fmt.Errorf("release reconciler: unexpected instance %T", ev.Instance)
	}
	if marker.Key != models.ReleaseMarkerKey {
		return nil
	}
	if _, ok := marker.ReleaseID(); ok {
		r.metrics.observe(receiverRelease, "skipped")
		return nil
	}

	project, err := r.db.GetProjectByID(ctx, marker.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", marker.ProjectID, err)
	}

	release, res, err := r.releases.CreateOrFetch(ctx, project.OrgID, marker.Value, marker.FirstSeen)
	if err != nil {
		return err
	}

	data := make(map[string]any, len(marker.Data)+1)
	for k, v := range marker.Data {
		data[k] = v
	}
	data["release_id"] = release.ID
	if err := r.db.UpdateReleaseMarkerData(ctx, marker, data); err != nil {
		return fmt.Errorf("record release on marker %d: %w", marker.ID, err)
	}

	if err := r.db.AddReleaseProject(ctx, release.ID, project.ID); err != nil {
		return fmt.Errorf("add project %d to release %d: %w", project.ID, release.ID, err)
	}

	r.metrics.observe(receiverRelease, res.String())
	r.logger.Debug("release reconciled", "release_id", release.ID, "version", release.Version, "project_id", project.ID, "result", res.String())
	return nil
}
