package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/jobs"
	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

func TestResolutionExpiryTriggerEnqueuesOnFirstCreateOnly(t *testing.T) {
	env := newTestEnv(t)
	org := env.org(t, "acme")

	release := &models.Release{OrgID: org.ID, Version: "1.0.0"}
	if _, err := env.db.CreateRelease(env.ctx, release); err != nil {
		t.Fatal(err)
	}
	calls := env.enqueuer.Calls()
	if len(calls) != 1 {
		t.Fatalf("enqueue calls = %d, want 1", len(calls))
	}
	if calls[0].taskName != TaskClearExpiredResolutions {
		t.Fatalf("task = %q, want %q", calls[0].taskName, TaskClearExpiredResolutions)
	}
	if got := calls[0].params["release_id"]; got != release.ID {
		t.Fatalf("release_id param = %v, want %d", got, release.ID)
	}

	if err := env.db.UpdateReleaseDateAdded(env.ctx, release, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := env.db.CreateRelease(env.ctx, &models.Release{OrgID: org.ID, Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if got := len(env.enqueuer.Calls()); got != 1 {
		t.Fatalf("enqueue calls after update = %d, want 1", got)
	}
}

func TestResolutionExpiryTriggerSwallowsEnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.enqueuer.err = errors.New("queue unavailable")
	org := env.org(t, "acme")

	if _, err := env.db.CreateRelease(env.ctx, &models.Release{OrgID: org.ID, Version: "1.0.0"}); err != nil {
		t.Fatalf("CreateRelease() error = %v, want nil when enqueue fails", err)
	}
	if got := len(env.enqueuer.Calls()); got != 1 {
		t.Fatalf("enqueue calls = %d, want 1", got)
	}
}

func TestResolutionExpiryTriggerRejectsUnexpectedInstance(t *testing.T) {
	trigger := NewResolutionExpiryTrigger(&fakeEnqueuer{}, nil)
	err := trigger.HandleRelease(context.Background(), signals.Event{Entity: signals.EntityRelease, Instance: "nope", Created: true})
	if err == nil {
		t.Fatal("expected error for non-release instance")
	}
}

func TestResolutionExpiryTriggerPassesSweepDelay(t *testing.T) {
	enq := &fakeEnqueuer{}
	recv := NewReceivers(nil, enq, Options{SweepDelay: 3 * time.Second})
	release := &models.Release{ID: 9, Version: "1.0.0"}
	if err := recv.Expiry.HandleRelease(context.Background(), signals.Event{Entity: signals.EntityRelease, Instance: release, Created: true}); err != nil {
		t.Fatal(err)
	}
	calls := enq.Calls()
	if len(calls) != 1 || calls[0].delay != 3*time.Second {
		t.Fatalf("enqueue calls = %+v, want one call delayed 3s", calls)
	}
}

func TestDelayedSweepIsNotClaimableBeforeProjectLink(t *testing.T) {
	env := newTestEnv(t)
	org := env.org(t, "acme")
	project := env.project(t, org.ID, "web")

	queue := jobs.NewQueue(env.raw, jobs.QueueOptions{})
	d := signals.NewDispatcher(nil, nil)
	db := database.WithSignals(env.raw, d)
	NewReceivers(db, queue, Options{SweepDelay: time.Hour}).Register(d)

	marker := &models.ReleaseMarker{ProjectID: project.ID, Key: models.ReleaseMarkerKey, Value: "4.0.0"}
	if _, err := db.SaveReleaseMarker(env.ctx, marker); err != nil {
		t.Fatal(err)
	}
	release, err := env.raw.GetRelease(env.ctx, org.ID, "4.0.0")
	if err != nil {
		t.Fatal(err)
	}
	projectIDs, err := env.raw.ListReleaseProjectIDs(env.ctx, release.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(projectIDs) != 1 || projectIDs[0] != project.ID {
		t.Fatalf("release projects = %v, want [%d]", projectIDs, project.ID)
	}

	pending, err := env.raw.ListJobs(env.ctx, TaskClearExpiredResolutions)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("queued sweeps = %d, want 1", len(pending))
	}
	if !pending[0].NextAttemptAt.After(time.Now().Add(50 * time.Minute)) {
		t.Fatalf("sweep next_attempt_at = %v, want about an hour out", pending[0].NextAttemptAt)
	}
	if job, err := queue.Claim(env.ctx); err != nil || job != nil {
		t.Fatalf("Claim() = %+v, %v, want nothing due", job, err)
	}
}
