package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

type enqueueCall struct {
	taskName string
	params   map[string]any
	delay    time.Duration
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (f *fakeEnqueuer) EnqueueAfter(_ context.Context, taskName string, params map[string]any, delay time.Duration) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueueCall{taskName: taskName, params: params, delay: delay})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Job{ID: int64(len(f.calls)), UID: "fake", TaskName: taskName, Params: params}, nil
}

func (f *fakeEnqueuer) Calls() []enqueueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueueCall(nil), f.calls...)
}

type testEnv struct {
	ctx      context.Context
	raw      *database.SQLiteDB
	db       database.DB
	enqueuer *fakeEnqueuer
	recv     *Receivers
}

// newTestEnv opens a migrated SQLite store wrapped with the receivers.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	raw, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	ctx := context.Background()
	if err := raw.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	d := signals.NewDispatcher(nil, nil)
	db := database.WithSignals(raw, d)
	enq := &fakeEnqueuer{}
	recv := NewReceivers(db, enq, Options{})
	recv.Register(d)
	return &testEnv{ctx: ctx, raw: raw, db: db, enqueuer: enq, recv: recv}
}

func (e *testEnv) org(t *testing.T, name string) *models.Org {
	t.Helper()
	org := &models.Org{Name: name, DisplayName: name}
	if err := e.raw.CreateOrg(e.ctx, org); err != nil {
		t.Fatal(err)
	}
	return org
}

func (e *testEnv) project(t *testing.T, orgID int64, slug string) *models.Project {
	t.Helper()
	p := &models.Project{OrgID: orgID, Slug: slug, Name: slug}
	if err := e.raw.CreateProject(e.ctx, p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (e *testEnv) issue(t *testing.T, projectID int64, title string) *models.Issue {
	t.Helper()
	issue := &models.Issue{ProjectID: projectID, Title: title}
	if err := e.raw.CreateIssue(e.ctx, issue); err != nil {
		t.Fatal(err)
	}
	return issue
}

// user creates an active org member with a verified address.
func (e *testEnv) user(t *testing.T, orgID int64, username, email string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: email, IsActive: true}
	if err := e.raw.CreateUser(e.ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := e.raw.AddUserEmail(e.ctx, &models.UserEmail{UserID: u.ID, Email: email, IsVerified: true}); err != nil {
		t.Fatal(err)
	}
	if err := e.raw.AddOrgMember(e.ctx, &models.OrgMember{OrgID: orgID, UserID: u.ID}); err != nil {
		t.Fatal(err)
	}
	return u
}

func (e *testEnv) activities(t *testing.T, issueID int64) []models.Activity {
	t.Helper()
	acts, err := e.raw.ListIssueActivity(e.ctx, issueID)
	if err != nil {
		t.Fatal(err)
	}
	return acts
}

func (e *testEnv) links(t *testing.T, issueID int64) []models.CommitResolution {
	t.Helper()
	links, err := e.raw.ListCommitResolutions(e.ctx, issueID)
	if err != nil {
		t.Fatal(err)
	}
	return links
}
