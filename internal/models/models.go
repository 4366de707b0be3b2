package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserEmail struct {
	UserID     int64  `json:"user_id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
}

type Org struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type OrgMember struct {
	OrgID  int64  `json:"org_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"` // "owner", "member"
}

type Project struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Release struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Version   string    `json:"version"`
	DateAdded time.Time `json:"date_added"`
}

// ReleaseMarkerKey is the tag key whose values name release versions.
const ReleaseMarkerKey = "sentry:release"

// ReleaseMarker is a tag value observed on a project. Markers keyed by
// ReleaseMarkerKey carry a release version in Value.
type ReleaseMarker struct {
	ID        int64          `json:"id"`
	ProjectID int64          `json:"project_id"`
	Key       string         `json:"key"`
	Value     string         `json:"value"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
	Data      map[string]any `json:"data,omitempty"`
}

// ReleaseID returns the release id recorded on the marker, if any.
func (m *ReleaseMarker) ReleaseID() (int64, bool) {
	if m == nil || m.Data == nil {
		return 0, false
	}
	switch v := m.Data["release_id"].(type) {
	case int64:
		return v, v != 0
	case int:
		return int64(v), v != 0
	case float64:
		return int64(v), v != 0
	default:
		return 0, false
	}
}

const (
	ResolutionInRelease     = "in_release"
	ResolutionInNextRelease = "in_next_release"

	ResolutionPending  = "pending"
	ResolutionResolved = "resolved"
)

// Resolution tracks that an issue is expected to be resolved in a release.
type Resolution struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	ReleaseID int64     `json:"release_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	DateAdded time.Time `json:"date_added"`
}

type CommitAuthor struct {
	ID    int64  `json:"id"`
	OrgID int64  `json:"org_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Commit struct {
	ID         int64     `json:"id"`
	OrgID      int64     `json:"org_id"`
	Repository string    `json:"repository"`
	Key        string    `json:"key"`
	Message    string    `json:"message,omitempty"`
	AuthorID   *int64    `json:"author_id,omitempty"`
	DateAdded  time.Time `json:"date_added"`
}

const (
	IssueStateOpen     = "open"
	IssueStateResolved = "resolved"
)

func IsIssueState(state string) bool {
	switch state {
	case IssueStateOpen, IssueStateResolved:
		return true
	default:
		return false
	}
}

type Issue struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	ShortID   int       `json:"short_id"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// CommitResolution records that a commit resolves an issue.
type CommitResolution struct {
	IssueID   int64     `json:"issue_id"`
	CommitID  int64     `json:"commit_id"`
	DateAdded time.Time `json:"date_added"`
}

const (
	ActivitySetResolvedInCommit  = "set_resolved_in_commit"
	ActivitySetResolvedInRelease = "set_resolved_in_release"
)

type Activity struct {
	ID        int64          `json:"id"`
	ProjectID int64          `json:"project_id"`
	IssueID   int64          `json:"issue_id"`
	Type      string         `json:"type"`
	Ident     string         `json:"ident,omitempty"`
	UserID    *int64         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	DateAdded time.Time      `json:"date_added"`
}
