package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/gotrack/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
	jobStore
}

func OpenSQLite(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and foreign keys
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteDB{db: db, jobStore: newJobStore(db, sqliteJobDialect)}, nil
}

// sqliteDSN attaches per-connection pragmas so every pooled connection waits
// on locks and enforces foreign keys, not just the first one.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") || dsn == ":memory:" {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	// Backfill schema for existing installations created before account deactivation.
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE users ADD COLUMN is_active BOOLEAN NOT NULL DEFAULT TRUE`); err != nil {
		if !isSQLiteDuplicateColumnErr(err) {
			return err
		}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_emails (
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	is_verified BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_id, email)
);

CREATE TABLE IF NOT EXISTS orgs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS org_members (
	org_id INTEGER NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	slug TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (org_id, slug)
);

CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	version TEXT NOT NULL,
	date_added DATETIME NOT NULL,
	UNIQUE (org_id, version)
);

CREATE TABLE IF NOT EXISTS release_projects (
	release_id INTEGER NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (release_id, project_id)
);

CREATE TABLE IF NOT EXISTS release_markers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	first_seen DATETIME NOT NULL,
	last_seen DATETIME NOT NULL,
	data TEXT NOT NULL DEFAULT '{}',
	UNIQUE (project_id, key, value)
);

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	short_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (project_id, short_id)
);

CREATE TABLE IF NOT EXISTS resolutions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_id INTEGER NOT NULL UNIQUE REFERENCES issues(id) ON DELETE CASCADE,
	release_id INTEGER NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
	type TEXT NOT NULL DEFAULT 'in_next_release',
	status TEXT NOT NULL DEFAULT 'pending',
	date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS commit_authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	UNIQUE (org_id, email)
);

CREATE TABLE IF NOT EXISTS commits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	org_id INTEGER NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	repository TEXT NOT NULL,
	key TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	author_id INTEGER REFERENCES commit_authors(id) ON DELETE SET NULL,
	date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (org_id, repository, key)
);

CREATE TABLE IF NOT EXISTS commit_resolutions (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	commit_id INTEGER NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
	date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (issue_id, commit_id)
);

CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	ident TEXT NOT NULL DEFAULT '',
	user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
	data TEXT NOT NULL DEFAULT '{}',
	date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	task_name TEXT NOT NULL,
	params TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_activities_issue ON activities(issue_id, type, ident);
CREATE INDEX IF NOT EXISTS idx_resolutions_release ON resolutions(release_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_next ON jobs(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(task_name, created_at);
`

const sqliteMaxTxAttempts = 8

// withTx runs fn in a transaction, retrying when SQLite reports the database
// as locked. fn must be safe to run more than once.
func (s *SQLiteDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	for attempt := 0; attempt < sqliteMaxTxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isSQLiteBusyErr(err) && attempt < sqliteMaxTxAttempts-1 {
				sqliteBackoff(attempt)
				continue
			}
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			if isSQLiteBusyErr(err) && attempt < sqliteMaxTxAttempts-1 {
				sqliteBackoff(attempt)
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			tx.Rollback()
			if isSQLiteBusyErr(err) && attempt < sqliteMaxTxAttempts-1 {
				sqliteBackoff(attempt)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("sqlite transaction: retries exhausted")
}

func sqliteBackoff(attempt int) {
	time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
}

func isSQLiteBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}

func isSQLiteDuplicateColumnErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func isSQLiteUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Users ---

func (s *SQLiteDB) CreateUser(ctx context.Context, u *models.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, is_active) VALUES (?, ?, ?)`,
		u.Username, u.Email, u.IsActive)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) AddUserEmail(ctx context.Context, e *models.UserEmail) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_emails (user_id, email, is_verified) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, email) DO UPDATE SET is_verified = excluded.is_verified`,
		e.UserID, strings.TrimSpace(e.Email), e.IsVerified)
	return err
}

// --- Organizations ---

func (s *SQLiteDB) CreateOrg(ctx context.Context, o *models.Org) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orgs (name, display_name) VALUES (?, ?)`, o.Name, o.DisplayName)
	if err != nil {
		return err
	}
	o.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) AddOrgMember(ctx context.Context, m *models.OrgMember) error {
	role := m.Role
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_members (org_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(org_id, user_id) DO UPDATE SET role = excluded.role`,
		m.OrgID, m.UserID, role)
	return err
}

// --- Projects ---

func (s *SQLiteDB) CreateProject(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (org_id, slug, name) VALUES (?, ?, ?)`,
		p.OrgID, strings.ToLower(strings.TrimSpace(p.Slug)), p.Name)
	if err != nil {
		return err
	}
	p.ID, _ = res.LastInsertId()
	return s.db.QueryRowContext(ctx, `SELECT slug, created_at FROM projects WHERE id = ?`, p.ID).Scan(&p.Slug, &p.CreatedAt)
}

func (s *SQLiteDB) GetProjectByID(ctx context.Context, id int64) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, slug, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.OrgID, &p.Slug, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- Releases ---

func (s *SQLiteDB) CreateRelease(ctx context.Context, r *models.Release) (CreateResult, error) {
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO releases (org_id, version, date_added) VALUES (?, ?, ?)`,
		r.OrgID, r.Version, r.DateAdded.UTC())
	if err != nil {
		if isSQLiteUniqueErr(err) {
			return Existing, nil
		}
		return 0, err
	}
	r.ID, _ = res.LastInsertId()
	return Created, nil
}

func (s *SQLiteDB) GetRelease(ctx context.Context, orgID int64, version string) (*models.Release, error) {
	return scanSQLiteRelease(s.db.QueryRowContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE org_id = ? AND version = ?`, orgID, version))
}

func (s *SQLiteDB) GetReleaseByID(ctx context.Context, id int64) (*models.Release, error) {
	return scanSQLiteRelease(s.db.QueryRowContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE id = ?`, id))
}

func scanSQLiteRelease(row *sql.Row) (*models.Release, error) {
	r := &models.Release{}
	if err := row.Scan(&r.ID, &r.OrgID, &r.Version, &r.DateAdded); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteDB) ListReleases(ctx context.Context, orgID int64) ([]models.Release, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE org_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var releases []models.Release
	for rows.Next() {
		var r models.Release
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Version, &r.DateAdded); err != nil {
			return nil, err
		}
		releases = append(releases, r)
	}
	return releases, rows.Err()
}

func (s *SQLiteDB) UpdateReleaseDateAdded(ctx context.Context, r *models.Release, dateAdded time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE releases SET date_added = ? WHERE id = ?`, dateAdded.UTC(), r.ID); err != nil {
		return err
	}
	r.DateAdded = dateAdded.UTC()
	return nil
}

func (s *SQLiteDB) AddReleaseProject(ctx context.Context, releaseID, projectID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO release_projects (release_id, project_id) VALUES (?, ?)
		 ON CONFLICT(release_id, project_id) DO NOTHING`,
		releaseID, projectID)
	return err
}

func (s *SQLiteDB) ListReleaseProjectIDs(ctx context.Context, releaseID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id FROM release_projects WHERE release_id = ? ORDER BY project_id`, releaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Release markers ---

func (s *SQLiteDB) SaveReleaseMarker(ctx context.Context, m *models.ReleaseMarker) (CreateResult, error) {
	now := time.Now().UTC()
	if m.FirstSeen.IsZero() {
		m.FirstSeen = now
	}
	if m.LastSeen.IsZero() {
		m.LastSeen = m.FirstSeen
	}
	data, err := encodeData(m.Data)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO release_markers (project_id, key, value, first_seen, last_seen, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, key, value) DO NOTHING`,
		m.ProjectID, m.Key, m.Value, m.FirstSeen.UTC(), m.LastSeen.UTC(), data)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		m.ID, _ = res.LastInsertId()
		return Created, nil
	}

	stored, err := scanSQLiteReleaseMarker(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, key, value, first_seen, last_seen, data
		 FROM release_markers WHERE project_id = ? AND key = ? AND value = ?`,
		m.ProjectID, m.Key, m.Value))
	if err != nil {
		return 0, err
	}
	if m.LastSeen.After(stored.LastSeen) {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE release_markers SET last_seen = ? WHERE id = ?`, m.LastSeen.UTC(), stored.ID); err != nil {
			return 0, err
		}
		stored.LastSeen = m.LastSeen.UTC()
	}
	*m = *stored
	return Existing, nil
}

func (s *SQLiteDB) GetReleaseMarker(ctx context.Context, id int64) (*models.ReleaseMarker, error) {
	return scanSQLiteReleaseMarker(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, key, value, first_seen, last_seen, data
		 FROM release_markers WHERE id = ?`, id))
}

func scanSQLiteReleaseMarker(row *sql.Row) (*models.ReleaseMarker, error) {
	m := &models.ReleaseMarker{}
	var data string
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Key, &m.Value, &m.FirstSeen, &m.LastSeen, &data); err != nil {
		return nil, err
	}
	decoded, err := decodeData([]byte(data))
	if err != nil {
		return nil, err
	}
	m.Data = decoded
	return m, nil
}

func (s *SQLiteDB) UpdateReleaseMarkerData(ctx context.Context, m *models.ReleaseMarker, data map[string]any) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE release_markers SET data = ? WHERE id = ?`, encoded, m.ID); err != nil {
		return err
	}
	m.Data = data
	return nil
}

// --- Resolutions ---

func (s *SQLiteDB) CreateResolution(ctx context.Context, r *models.Resolution) error {
	if r.Type == "" {
		r.Type = models.ResolutionInNextRelease
	}
	if r.Status == "" {
		r.Status = models.ResolutionPending
	}
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO resolutions (issue_id, release_id, type, status, date_added) VALUES (?, ?, ?, ?, ?)`,
		r.IssueID, r.ReleaseID, r.Type, r.Status, r.DateAdded.UTC())
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetResolution(ctx context.Context, issueID int64) (*models.Resolution, error) {
	r := &models.Resolution{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, issue_id, release_id, type, status, date_added FROM resolutions WHERE issue_id = ?`, issueID).
		Scan(&r.ID, &r.IssueID, &r.ReleaseID, &r.Type, &r.Status, &r.DateAdded)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ResolveExpiredResolutions marks pending next-release resolutions on older
// releases that share a project with release as resolved, and stamps the
// newest matching release activity with the release version.
func (s *SQLiteDB) ResolveExpiredResolutions(ctx context.Context, release *models.Release) ([]models.Resolution, error) {
	var resolved []models.Resolution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		resolved = resolved[:0]
		rows, err := tx.QueryContext(ctx,
			`SELECT r.id, r.issue_id, r.release_id, r.type, r.status, r.date_added, rel.date_added
			 FROM resolutions r
			 JOIN releases rel ON rel.id = r.release_id
			 WHERE r.status = ? AND r.type = ? AND r.release_id != ?
			   AND EXISTS (
				 SELECT 1 FROM release_projects a
				 JOIN release_projects b ON b.project_id = a.project_id
				 WHERE a.release_id = r.release_id AND b.release_id = ?
			   )
			 ORDER BY r.id`,
			models.ResolutionPending, models.ResolutionInNextRelease, release.ID, release.ID)
		if err != nil {
			return err
		}
		var candidates []models.Resolution
		for rows.Next() {
			var r models.Resolution
			var releaseDate time.Time
			if err := rows.Scan(&r.ID, &r.IssueID, &r.ReleaseID, &r.Type, &r.Status, &r.DateAdded, &releaseDate); err != nil {
				rows.Close()
				return err
			}
			if releaseDate.Before(release.DateAdded) {
				candidates = append(candidates, r)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		data, err := encodeData(map[string]any{"version": release.Version})
		if err != nil {
			return err
		}
		for _, r := range candidates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE resolutions SET status = ? WHERE id = ?`, models.ResolutionResolved, r.ID); err != nil {
				return err
			}
			var activityID int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM activities
				 WHERE issue_id = ? AND type = ? AND ident = ?
				 ORDER BY date_added DESC, id DESC
				 LIMIT 1`,
				r.IssueID, models.ActivitySetResolvedInRelease, fmt.Sprint(r.ID)).Scan(&activityID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err == nil {
				if _, err := tx.ExecContext(ctx,
					`UPDATE activities SET data = ? WHERE id = ?`, data, activityID); err != nil {
					return err
				}
			}
			r.Status = models.ResolutionResolved
			resolved = append(resolved, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// --- Commits ---

func (s *SQLiteDB) SaveCommitAuthor(ctx context.Context, a *models.CommitAuthor) error {
	return s.db.QueryRowContext(ctx,
		`INSERT INTO commit_authors (org_id, name, email) VALUES (?, ?, ?)
		 ON CONFLICT(org_id, email) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		a.OrgID, a.Name, strings.TrimSpace(a.Email)).Scan(&a.ID)
}

func (s *SQLiteDB) GetCommitAuthor(ctx context.Context, id int64) (*models.CommitAuthor, error) {
	a := &models.CommitAuthor{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, email FROM commit_authors WHERE id = ?`, id).
		Scan(&a.ID, &a.OrgID, &a.Name, &a.Email)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindAuthorUsers returns active organization members owning a verified email
// that matches the author's email.
func (s *SQLiteDB) FindAuthorUsers(ctx context.Context, a *models.CommitAuthor) ([]models.User, error) {
	email := strings.TrimSpace(a.Email)
	if email == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.email, u.is_active, u.created_at
		 FROM users u
		 JOIN user_emails e ON e.user_id = u.id
		 JOIN org_members m ON m.user_id = u.id
		 WHERE lower(e.email) = lower(?) AND e.is_verified AND u.is_active AND m.org_id = ?
		 ORDER BY u.id`,
		email, a.OrgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) SaveCommit(ctx context.Context, c *models.Commit) (CreateResult, error) {
	if c.DateAdded.IsZero() {
		c.DateAdded = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO commits (org_id, repository, key, message, author_id, date_added)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(org_id, repository, key) DO NOTHING`,
		c.OrgID, c.Repository, c.Key, c.Message, c.AuthorID, c.DateAdded.UTC())
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		c.ID, _ = res.LastInsertId()
		return Created, nil
	}

	stored := &models.Commit{}
	var authorID sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT id, org_id, repository, key, message, author_id, date_added
		 FROM commits WHERE org_id = ? AND repository = ? AND key = ?`,
		c.OrgID, c.Repository, c.Key).
		Scan(&stored.ID, &stored.OrgID, &stored.Repository, &stored.Key, &stored.Message, &authorID, &stored.DateAdded)
	if err != nil {
		return 0, err
	}
	if authorID.Valid {
		v := authorID.Int64
		stored.AuthorID = &v
	}
	*c = *stored
	return Existing, nil
}

// --- Issues ---

func (s *SQLiteDB) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.State == "" {
		issue.State = models.IssueStateOpen
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var maxShortID int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(short_id), 0) FROM issues WHERE project_id = ?`, issue.ProjectID).Scan(&maxShortID); err != nil {
			return err
		}
		issue.ShortID = maxShortID + 1

		res, err := tx.ExecContext(ctx,
			`INSERT INTO issues (project_id, short_id, title, state) VALUES (?, ?, ?, ?)`,
			issue.ProjectID, issue.ShortID, issue.Title, issue.State)
		if err != nil {
			return err
		}
		issue.ID, _ = res.LastInsertId()
		return tx.QueryRowContext(ctx, `SELECT created_at FROM issues WHERE id = ?`, issue.ID).Scan(&issue.CreatedAt)
	})
}

func (s *SQLiteDB) LookupIssueByShortID(ctx context.Context, orgID int64, projectSlug string, shortID int) (*models.Issue, LookupResult, error) {
	issue := &models.Issue{}
	err := s.db.QueryRowContext(ctx,
		`SELECT i.id, i.project_id, i.short_id, i.title, i.state, i.created_at
		 FROM issues i
		 JOIN projects p ON p.id = i.project_id
		 WHERE p.org_id = ? AND p.slug = ? AND i.short_id = ?`,
		orgID, strings.ToLower(projectSlug), shortID).
		Scan(&issue.ID, &issue.ProjectID, &issue.ShortID, &issue.Title, &issue.State, &issue.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Absent, nil
		}
		return nil, 0, err
	}
	return issue, Found, nil
}

// --- Commit resolutions ---

var errLinkExists = errors.New("commit resolution already exists")

// CreateCommitResolution inserts the link and its activities in one
// transaction. A duplicate link rolls everything back and reports Existing.
func (s *SQLiteDB) CreateCommitResolution(ctx context.Context, link *models.CommitResolution, activities []models.Activity) (CreateResult, error) {
	if link.DateAdded.IsZero() {
		link.DateAdded = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commit_resolutions (issue_id, commit_id, date_added) VALUES (?, ?, ?)`,
			link.IssueID, link.CommitID, link.DateAdded.UTC()); err != nil {
			if isSQLiteUniqueErr(err) {
				return errLinkExists
			}
			return err
		}
		for i := range activities {
			if err := insertSQLiteActivity(ctx, tx, &activities[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errLinkExists) {
		return Existing, nil
	}
	if err != nil {
		return 0, err
	}
	return Created, nil
}

func (s *SQLiteDB) ListCommitResolutions(ctx context.Context, issueID int64) ([]models.CommitResolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT issue_id, commit_id, date_added FROM commit_resolutions WHERE issue_id = ? ORDER BY commit_id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []models.CommitResolution
	for rows.Next() {
		var l models.CommitResolution
		if err := rows.Scan(&l.IssueID, &l.CommitID, &l.DateAdded); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// --- Activity ---

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteActivity(ctx context.Context, execer sqlExecer, a *models.Activity) error {
	if a.DateAdded.IsZero() {
		a.DateAdded = time.Now().UTC()
	}
	data, err := encodeData(a.Data)
	if err != nil {
		return err
	}
	res, err := execer.ExecContext(ctx,
		`INSERT INTO activities (project_id, issue_id, type, ident, user_id, data, date_added)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.IssueID, a.Type, a.Ident, a.UserID, data, a.DateAdded.UTC())
	if err != nil {
		return err
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) CreateActivity(ctx context.Context, a *models.Activity) error {
	return insertSQLiteActivity(ctx, s.db, a)
}

func (s *SQLiteDB) ListIssueActivity(ctx context.Context, issueID int64) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, issue_id, type, ident, user_id, data, date_added
		 FROM activities WHERE issue_id = ? ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activities []models.Activity
	for rows.Next() {
		var a models.Activity
		var userID sql.NullInt64
		var data string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.IssueID, &a.Type, &a.Ident, &userID, &data, &a.DateAdded); err != nil {
			return nil, err
		}
		if userID.Valid {
			v := userID.Int64
			a.UserID = &v
		}
		if a.Data, err = decodeData([]byte(data)); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
