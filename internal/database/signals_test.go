package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

func TestWithSignalsNotifiesOnWrites(t *testing.T) {
	ctx, raw := openTestSQLite(t)
	org, project := seedOrgProject(t, ctx, raw, "acme", "web")

	d := signals.NewDispatcher(nil, nil)
	var events []signals.Event
	record := func(_ context.Context, ev signals.Event) error {
		events = append(events, ev)
		return nil
	}
	d.Register(signals.EntityRelease, "record", record)
	d.Register(signals.EntityReleaseMarker, "record", record)
	d.Register(signals.EntityCommit, "record", record)
	db := WithSignals(raw, d)

	r := &models.Release{OrgID: org.ID, Version: "1.0.0"}
	if _, err := db.CreateRelease(ctx, r); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateRelease(ctx, &models.Release{OrgID: org.ID, Version: "1.0.0"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateReleaseDateAdded(ctx, r, time.Now()); err != nil {
		t.Fatal(err)
	}
	m := &models.ReleaseMarker{ProjectID: project.ID, Key: models.ReleaseMarkerKey, Value: "1.0.0"}
	if _, err := db.SaveReleaseMarker(ctx, m); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveCommit(ctx, &models.Commit{OrgID: org.ID, Repository: "r", Key: "k"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveCommit(ctx, &models.Commit{OrgID: org.ID, Repository: "r", Key: "k"}); err != nil {
		t.Fatal(err)
	}

	want := []struct {
		entity  signals.Entity
		created bool
	}{
		{signals.EntityRelease, true},
		{signals.EntityRelease, false},
		{signals.EntityReleaseMarker, true},
		{signals.EntityCommit, true},
		{signals.EntityCommit, false},
	}
	if len(events) != len(want) {
		t.Fatalf("event count = %d, want %d (%+v)", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Entity != w.entity || events[i].Created != w.created {
			t.Fatalf("event[%d] = %s/%v, want %s/%v", i, events[i].Entity, events[i].Created, w.entity, w.created)
		}
	}
	if inst, ok := events[0].Instance.(*models.Release); !ok || inst.ID != r.ID {
		t.Fatalf("event[0] instance = %#v, want release %d", events[0].Instance, r.ID)
	}
}

func TestWithSignalsPropagatesHandlerError(t *testing.T) {
	ctx, raw := openTestSQLite(t)
	org, _ := seedOrgProject(t, ctx, raw, "acme", "web")

	boom := errors.New("boom")
	d := signals.NewDispatcher(nil, nil)
	d.Register(signals.EntityCommit, "fail", func(context.Context, signals.Event) error { return boom })
	db := WithSignals(raw, d)

	res, err := db.SaveCommit(ctx, &models.Commit{OrgID: org.ID, Repository: "r", Key: "k"})
	if !errors.Is(err, boom) {
		t.Fatalf("SaveCommit() error = %v, want %v", err, boom)
	}
	if res != Created {
		t.Fatalf("SaveCommit() result = %v, want created", res)
	}
}

func TestWithSignalsNilDispatcherReturnsStore(t *testing.T) {
	_, raw := openTestSQLite(t)
	if got := WithSignals(raw, nil); got != DB(raw) {
		t.Fatalf("WithSignals(nil) = %T, want unwrapped store", got)
	}
}
