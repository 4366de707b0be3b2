package service

import (
	"log/slog"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/signals"
	"github.com/prometheus/client_golang/prometheus"
)

// Handler keys, unique per dispatcher.
const (
	KeyReconcileRelease     = "release.reconcile"
	KeyExpireResolutions    = "release.expire_resolutions"
	KeyLinkCommitResolution = "commit.link_resolution"
)

type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	// SweepDelay postpones each clear_expired_resolutions job. Zero runs it
	// as soon as a worker is free.
	SweepDelay time.Duration
}

// Receivers bundles the handlers that react to persisted markers, releases
// and commits.
type Receivers struct {
	Releases *ReleaseReconciler
	Expiry   *ResolutionExpiryTrigger
	Commits  *CommitResolutionLinker
}

// NewReceivers wires the handlers against db, which should be the signaling
// store so that releases created by the reconciler trigger the expiry sweep.
func NewReceivers(db database.DB, enqueuer Enqueuer, opts Options) *Receivers {
	metrics := newReceiverMetrics(opts.Registerer)
	r := &Receivers{
		Releases: NewReleaseReconciler(db, opts.Logger),
		Expiry:   NewResolutionExpiryTrigger(enqueuer, opts.Logger),
		Commits:  NewCommitResolutionLinker(db, opts.Logger),
	}
	r.Releases.metrics = metrics
	r.Expiry.metrics = metrics
	r.Expiry.delay = opts.SweepDelay
	r.Commits.metrics = metrics
	return r
}

func (r *Receivers) Register(d *signals.Dispatcher) {
	d.Register(signals.EntityReleaseMarker, KeyReconcileRelease, r.Releases.HandleMarker)
	d.Register(signals.EntityRelease, KeyExpireResolutions, r.Expiry.HandleRelease)
	d.Register(signals.EntityCommit, KeyLinkCommitResolution, r.Commits.HandleCommit)
}
