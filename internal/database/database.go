package database

import (
	"context"
	"time"

	"github.com/odvcencio/gotrack/internal/models"
)

// CreateResult reports whether a create-or-find write inserted a new row or
// ran into an existing row under a unique constraint.
type CreateResult int

const (
	Created CreateResult = iota + 1
	Existing
)

func (r CreateResult) String() string {
	switch r {
	case Created:
		return "created"
	case Existing:
		return "existing"
	default:
		return "unknown"
	}
}

// LookupResult reports whether a lookup matched a row. Absent is an expected
// outcome and is never returned as an error.
type LookupResult int

const (
	Found LookupResult = iota + 1
	Absent
)

func (r LookupResult) String() string {
	switch r {
	case Found:
		return "found"
	case Absent:
		return "absent"
	default:
		return "unknown"
	}
}

// DB defines the data access interface. Implemented by SQLite and PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	AddUserEmail(ctx context.Context, email *models.UserEmail) error

	// Organizations
	CreateOrg(ctx context.Context, o *models.Org) error
	AddOrgMember(ctx context.Context, m *models.OrgMember) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProjectByID(ctx context.Context, id int64) (*models.Project, error)

	// Releases
	CreateRelease(ctx context.Context, r *models.Release) (CreateResult, error)
	GetRelease(ctx context.Context, orgID int64, version string) (*models.Release, error)
	GetReleaseByID(ctx context.Context, id int64) (*models.Release, error)
	ListReleases(ctx context.Context, orgID int64) ([]models.Release, error)
	UpdateReleaseDateAdded(ctx context.Context, r *models.Release, dateAdded time.Time) error
	AddReleaseProject(ctx context.Context, releaseID, projectID int64) error
	ListReleaseProjectIDs(ctx context.Context, releaseID int64) ([]int64, error)

	// Release markers
	SaveReleaseMarker(ctx context.Context, m *models.ReleaseMarker) (CreateResult, error)
	GetReleaseMarker(ctx context.Context, id int64) (*models.ReleaseMarker, error)
	UpdateReleaseMarkerData(ctx context.Context, m *models.ReleaseMarker, data map[string]any) error

	// Resolutions
	CreateResolution(ctx context.Context, r *models.Resolution) error
	GetResolution(ctx context.Context, issueID int64) (*models.Resolution, error)
	ResolveExpiredResolutions(ctx context.Context, release *models.Release) ([]models.Resolution, error)

	// Commits
	SaveCommitAuthor(ctx context.Context, a *models.CommitAuthor) error
	GetCommitAuthor(ctx context.Context, id int64) (*models.CommitAuthor, error)
	FindAuthorUsers(ctx context.Context, a *models.CommitAuthor) ([]models.User, error)
	SaveCommit(ctx context.Context, c *models.Commit) (CreateResult, error)

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	LookupIssueByShortID(ctx context.Context, orgID int64, projectSlug string, shortID int) (*models.Issue, LookupResult, error)

	// Commit resolutions
	CreateCommitResolution(ctx context.Context, link *models.CommitResolution, activities []models.Activity) (CreateResult, error)
	ListCommitResolutions(ctx context.Context, issueID int64) ([]models.CommitResolution, error)

	// Activity
	CreateActivity(ctx context.Context, a *models.Activity) error
	ListIssueActivity(ctx context.Context, issueID int64) ([]models.Activity, error)

	// Jobs
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimJob(ctx context.Context) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID int64, status models.JobStatus, errMsg string) error
	RequeueJob(ctx context.Context, jobID int64, errMsg string, nextAttemptAt time.Time) error
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	ListJobs(ctx context.Context, taskName string) ([]models.Job, error)
}
