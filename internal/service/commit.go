package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/models"
	"github.com/odvcencio/gotrack/internal/signals"
)

var fixesPattern = regexp.MustCompile(`(?i)\bFixes\s+([A-Za-z0-9_-]+-[A-Z0-9]+)\b`)

// FindFixedShortID returns the first "Fixes <SHORT-ID>" reference in message.
func FindFixedShortID(message string) (string, bool) {
	m := fixesPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseQualifiedShortID splits "PROJ-123" into a lowercase project slug and the
// per-project issue number. The split happens at the last hyphen so slugs may
// contain hyphens themselves. Issue numbers are assigned in decimal, so a
// suffix with letters ("PROJ-1A") matches the Fixes pattern but never
// resolves to an issue.
func ParseQualifiedShortID(qualified string) (string, int, bool) {
	idx := strings.LastIndex(qualified, "-")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(qualified[idx+1:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return strings.ToLower(qualified[:idx]), n, true
}

// CommitResolutionLinker links issues referenced by "Fixes" in new commits and
// records who resolved them.
type CommitResolutionLinker struct {
	db      database.DB
	logger  *slog.Logger
	metrics *receiverMetrics
}

func NewCommitResolutionLinker(db database.DB, logger *slog.Logger) *CommitResolutionLinker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitResolutionLinker{db: db, logger: logger}
}

func (l *CommitResolutionLinker) HandleCommit(ctx context.Context, ev signals.Event) error {
	if !ev.Created {
		return nil
	}
	commit, ok := ev.Instance.(*models.Commit)
	if !ok || commit == nil {
		return fmt.Errorf("commit resolution linker: unexpected instance %T", ev.Instance)
	}
	if strings.TrimSpace(commit.Message) == "" {
		return nil
	}

	ref, ok := FindFixedShortID(commit.Message)
	if !ok {
		l.metrics.observe(receiverCommit, "no_match")
		return nil
	}
	slug, shortID, ok := ParseQualifiedShortID(ref)
	if !ok {
		l.metrics.observe(receiverCommit, "absent")
		return nil
	}
	issue, found, err := l.db.LookupIssueByShortID(ctx, commit.OrgID, slug, shortID)
	if err != nil {
		return fmt.Errorf("lookup issue %s: %w", ref, err)
	}
	if found == database.Absent {
		l.metrics.observe(receiverCommit, "absent")
		l.logger.Debug("commit references unknown issue", "commit_id", commit.ID, "short_id", ref)
		return nil
	}

	users, err := l.authorUsers(ctx, commit)
	if err != nil {
		return err
	}

	link := &models.CommitResolution{IssueID: issue.ID, CommitID: commit.ID}
	res, err := l.db.CreateCommitResolution(ctx, link, resolvedInCommitActivities(issue, commit, users))
	if err != nil {
		return fmt.Errorf("link commit %d to issue %d: %w", commit.ID, issue.ID, err)
	}
	if res == database.Existing {
		l.metrics.observe(receiverCommit, "duplicate")
		return nil
	}
	l.metrics.observe(receiverCommit, "linked")
	l.logger.Info("issue resolved in commit", "issue_id", issue.ID, "commit_id", commit.ID, "users", len(users))
	return nil
}

func (l *CommitResolutionLinker) authorUsers(ctx context.Context, commit *models.Commit) ([]models.User, error) {
	if commit.AuthorID == nil {
		return nil, nil
	}
	author, err := l.db.GetCommitAuthor(ctx, *commit.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("get commit author %d: %w", *commit.AuthorID, err)
	}
	users, err := l.db.FindAuthorUsers(ctx, author)
	if err != nil {
		return nil, fmt.Errorf("find users for author %d: %w", author.ID, err)
	}
	return users, nil
}

// resolvedInCommitActivities builds one activity per user, or a single
// anonymous one when the author maps to nobody.
func resolvedInCommitActivities(issue *models.Issue, commit *models.Commit, users []models.User) []models.Activity {
	newActivity := func(userID *int64) models.Activity {
		return models.Activity{
			ProjectID: issue.ProjectID,
			IssueID:   issue.ID,
			Type:      models.ActivitySetResolvedInCommit,
			Ident:     strconv.FormatInt(commit.ID, 10),
			UserID:    userID,
			Data:      map[string]any{"commit": commit.ID},
		}
	}
	if len(users) == 0 {
		return []models.Activity{newActivity(nil)}
	}
	activities := make([]models.Activity, 0, len(users))
	for _, u := range users {
		id := u.ID
		activities = append(activities, newActivity(&id))
	}
	return activities
}
