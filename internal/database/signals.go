package database

import (
	"context"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

// signalingDB notifies a dispatcher after each triggering write succeeds.
type signalingDB struct {
	DB
	dispatcher *signals.Dispatcher
}

// WithSignals wraps db so that release marker, release and commit writes
// notify d once they are persisted. Handler errors are returned from the
// write that triggered them.
func WithSignals(db DB, d *signals.Dispatcher) DB {
	if d == nil {
		return db
	}
	return &signalingDB{DB: db, dispatcher: d}
}

func (s *signalingDB) SaveReleaseMarker(ctx context.Context, m *models.ReleaseMarker) (CreateResult, error) {
	res, err := s.DB.SaveReleaseMarker(ctx, m)
	if err != nil {
		return res, err
	}
	return res, s.dispatcher.Notify(ctx, signals.EntityReleaseMarker, m, res == Created)
}

func (s *signalingDB) UpdateReleaseMarkerData(ctx context.Context, m *models.ReleaseMarker, data map[string]any) error {
	if err := s.DB.UpdateReleaseMarkerData(ctx, m, data); err != nil {
		return err
	}
	return s.dispatcher.Notify(ctx, signals.EntityReleaseMarker, m, false)
}

func (s *signalingDB) CreateRelease(ctx context.Context, r *models.Release) (CreateResult, error) {
	res, err := s.DB.CreateRelease(ctx, r)
	if err != nil || res != Created {
		return res, err
	}
	return res, s.dispatcher.Notify(ctx, signals.EntityRelease, r, true)
}

func (s *signalingDB) UpdateReleaseDateAdded(ctx context.Context, r *models.Release, dateAdded time.Time) error {
	if err := s.DB.UpdateReleaseDateAdded(ctx, r, dateAdded); err != nil {
		return err
	}
	return s.dispatcher.Notify(ctx, signals.EntityRelease, r, false)
}

func (s *signalingDB) SaveCommit(ctx context.Context, c *models.Commit) (CreateResult, error) {
	res, err := s.DB.SaveCommit(ctx, c)
	if err != nil {
		return res, err
	}
	return res, s.dispatcher.Notify(ctx, signals.EntityCommit, c, res == Created)
}
