package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/gotrack/internal/config"
	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/service"
	"github.com/odvcencio/gotrack/internal/signals"
)

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"

	_, err := openDB(cfg)
	if err == nil {
		t.Fatal("openDB(mysql) error = nil, want error")
	}
	if !strings.Contains(err.Error(), "unsupported database driver") {
		t.Fatalf("openDB(mysql) error = %v, want unsupported driver", err)
	}
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 1},
		{"0.25", 0.25},
		{"0", 0},
		{"1.5", 1},
		{"-1", 1},
		{"often", 1},
	}
	for _, tc := range tests {
		if got := sampleRatio(tc.raw); got != tc.want {
			t.Fatalf("sampleRatio(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestOTLPOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		insecure bool
		want     int
	}{
		{endpoint: "collector:4318", want: 1},
		{endpoint: "collector:4318", insecure: true, want: 2},
		{endpoint: "http://collector:4318", want: 2},
		{endpoint: "https://collector:4318/custom/v1/traces", want: 2},
	}
	for _, tc := range tests {
		if got := len(otlpOptions(tc.endpoint, tc.insecure)); got != tc.want {
			t.Fatalf("len(otlpOptions(%q, %v)) = %d, want %d", tc.endpoint, tc.insecure, got, tc.want)
		}
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("GOTRACK_OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := initTracing(context.Background())
	if err != nil {
		t.Fatalf("initTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
}

func TestNewAppWiresReceiversAndJobs(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "gotrack.db")
	cfg.Jobs.SweepDelay = 0

	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	a := newApp(cfg, db, prometheus.NewRegistry())
	if a.pool == nil {
		t.Fatal("pool = nil, want worker pool for default config")
	}
	for entity, want := range map[signals.Entity]string{
		signals.EntityReleaseMarker: service.KeyReconcileRelease,
		signals.EntityRelease:       service.KeyExpireResolutions,
		signals.EntityCommit:        service.KeyLinkCommitResolution,
	} {
		if got := a.dispatcher.Keys(entity); len(got) != 1 || got[0] != want {
			t.Fatalf("Keys(%s) = %v, want [%s]", entity, got, want)
		}
	}
	if tasks := a.router.Tasks(); len(tasks) != 1 || tasks[0] != service.TaskClearExpiredResolutions {
		t.Fatalf("Tasks() = %v, want [%s]", tasks, service.TaskClearExpiredResolutions)
	}

	org := &models.Org{Name: "acme", DisplayName: "Acme"}
	if err := a.store.CreateOrg(ctx, org); err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	project := &models.Project{OrgID: org.ID, Slug: "web", Name: "web"}
	if err := a.store.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	marker := &models.ReleaseMarker{ProjectID: project.ID, Key: models.ReleaseMarkerKey, Value: "3.1.0"}
	res, err := a.store.SaveReleaseMarker(ctx, marker)
	if err != nil {
		t.Fatalf("SaveReleaseMarker: %v", err)
	}
	if res != database.Created {
		t.Fatalf("SaveReleaseMarker() = %v, want created", res)
	}
	if _, err := db.GetRelease(ctx, org.ID, "3.1.0"); err != nil {
		t.Fatalf("GetRelease(3.1.0) error = %v, want release created by reconciler", err)
	}

	job, err := a.queue.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil || job.TaskName != service.TaskClearExpiredResolutions {
		t.Fatalf("claimed job = %+v, want %s", job, service.TaskClearExpiredResolutions)
	}
	if err := a.router.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}
}

func TestNewAppWithoutWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Jobs.Workers = 0
	cfg.Database.DSN = filepath.Join(t.TempDir(), "gotrack.db")

	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if a := newApp(cfg, db, prometheus.NewRegistry()); a.pool != nil {
		t.Fatal("pool != nil, want no worker pool when workers = 0")
	}
}
