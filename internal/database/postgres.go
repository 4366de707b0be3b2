package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/odvcencio/gotrack/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

type PostgresDB struct {
	db *sql.DB
	jobStore
}

func OpenPostgres(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresDB{db: db, jobStore: newJobStore(db, postgresJobDialect)}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

func isPostgresUniqueErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_emails (
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	is_verified BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (user_id, email)
);

CREATE TABLE IF NOT EXISTS orgs (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS org_members (
	org_id BIGINT NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS projects (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	slug TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (org_id, slug)
);

CREATE TABLE IF NOT EXISTS releases (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	version TEXT NOT NULL,
	date_added TIMESTAMPTZ NOT NULL,
	UNIQUE (org_id, version)
);

CREATE TABLE IF NOT EXISTS release_projects (
	release_id BIGINT NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	PRIMARY KEY (release_id, project_id)
);

CREATE TABLE IF NOT EXISTS release_markers (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	data JSONB NOT NULL DEFAULT '{}',
	UNIQUE (project_id, key, value)
);

CREATE TABLE IF NOT EXISTS issues (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	short_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'open',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (project_id, short_id)
);

CREATE TABLE IF NOT EXISTS resolutions (
	id BIGSERIAL PRIMARY KEY,
	issue_id BIGINT NOT NULL UNIQUE REFERENCES issues(id) ON DELETE CASCADE,
	release_id BIGINT NOT NULL REFERENCES releases(id) ON DELETE CASCADE,
	type TEXT NOT NULL DEFAULT 'in_next_release',
	status TEXT NOT NULL DEFAULT 'pending',
	date_added TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS commit_authors (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL,
	UNIQUE (org_id, email)
);

CREATE TABLE IF NOT EXISTS commits (
	id BIGSERIAL PRIMARY KEY,
	org_id BIGINT NOT NULL REFERENCES orgs(id) ON DELETE CASCADE,
	repository TEXT NOT NULL,
	key TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	author_id BIGINT REFERENCES commit_authors(id) ON DELETE SET NULL,
	date_added TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (org_id, repository, key)
);

CREATE TABLE IF NOT EXISTS commit_resolutions (
	issue_id BIGINT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	commit_id BIGINT NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
	date_added TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (issue_id, commit_id)
);

CREATE TABLE IF NOT EXISTS activities (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	issue_id BIGINT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	ident TEXT NOT NULL DEFAULT '',
	user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
	data JSONB NOT NULL DEFAULT '{}',
	date_added TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS jobs (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	task_name TEXT NOT NULL,
	params JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_activities_issue ON activities(issue_id, type, ident);
CREATE INDEX IF NOT EXISTS idx_resolutions_release ON resolutions(release_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_next ON jobs(status, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(task_name, created_at);
`

// --- Users ---

func (p *PostgresDB) CreateUser(ctx context.Context, u *models.User) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, is_active) VALUES ($1, $2, $3) RETURNING id, created_at`,
		u.Username, u.Email, u.IsActive).Scan(&u.ID, &u.CreatedAt)
}

func (p *PostgresDB) AddUserEmail(ctx context.Context, e *models.UserEmail) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO user_emails (user_id, email, is_verified) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, email) DO UPDATE SET is_verified = EXCLUDED.is_verified`,
		e.UserID, strings.TrimSpace(e.Email), e.IsVerified)
	return err
}

// --- Organizations ---

func (p *PostgresDB) CreateOrg(ctx context.Context, o *models.Org) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO orgs (name, display_name) VALUES ($1, $2) RETURNING id`,
		o.Name, o.DisplayName).Scan(&o.ID)
}

func (p *PostgresDB) AddOrgMember(ctx context.Context, m *models.OrgMember) error {
	role := m.Role
	if role == "" {
		role = "member"
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO org_members (org_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.OrgID, m.UserID, role)
	return err
}

// --- Projects ---

func (p *PostgresDB) CreateProject(ctx context.Context, proj *models.Project) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO projects (org_id, slug, name) VALUES ($1, $2, $3) RETURNING id, slug, created_at`,
		proj.OrgID, strings.ToLower(strings.TrimSpace(proj.Slug)), proj.Name).
		Scan(&proj.ID, &proj.Slug, &proj.CreatedAt)
}

func (p *PostgresDB) GetProjectByID(ctx context.Context, id int64) (*models.Project, error) {
	proj := &models.Project{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, org_id, slug, name, created_at FROM projects WHERE id = $1`, id).
		Scan(&proj.ID, &proj.OrgID, &proj.Slug, &proj.Name, &proj.CreatedAt)
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// --- Releases ---

func (p *PostgresDB) CreateRelease(ctx context.Context, r *models.Release) (CreateResult, error) {
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now().UTC()
	}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO releases (org_id, version, date_added) VALUES ($1, $2, $3) RETURNING id`,
		r.OrgID, r.Version, r.DateAdded.UTC()).Scan(&r.ID)
	if err != nil {
		if isPostgresUniqueErr(err) {
			return Existing, nil
		}
		return 0, err
	}
	return Created, nil
}

func (p *PostgresDB) GetRelease(ctx context.Context, orgID int64, version string) (*models.Release, error) {
	return scanPostgresRelease(p.db.QueryRowContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE org_id = $1 AND version = $2`, orgID, version))
}

func (p *PostgresDB) GetReleaseByID(ctx context.Context, id int64) (*models.Release, error) {
	return scanPostgresRelease(p.db.QueryRowContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE id = $1`, id))
}

func scanPostgresRelease(row *sql.Row) (*models.Release, error) {
	r := &models.Release{}
	if err := row.Scan(&r.ID, &r.OrgID, &r.Version, &r.DateAdded); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresDB) ListReleases(ctx context.Context, orgID int64) ([]models.Release, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, org_id, version, date_added FROM releases WHERE org_id = $1 ORDER BY id`, orgID)
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

func (p *PostgresDB) UpdateReleaseDateAdded(ctx context.Context, r *models.Release, dateAdded time.Time) error {
	if _, err := p.db.ExecContext(ctx,
		`UPDATE releases SET date_added = $1 WHERE id = $2`, dateAdded.UTC(), r.ID); err != nil {
		return err
	}
	r.DateAdded = dateAdded.UTC()
	return nil
}

func (p *PostgresDB) AddReleaseProject(ctx context.Context, releaseID, projectID int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO release_projects (release_id, project_id) VALUES ($1, $2)
		 ON CONFLICT (release_id, project_id) DO NOTHING`,
		releaseID, projectID)
	return err
}

func (p *PostgresDB) ListReleaseProjectIDs(ctx context.Context, releaseID int64) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT project_id FROM release_projects WHERE release_id = $1 ORDER BY project_id`, releaseID)
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

func (p *PostgresDB) SaveReleaseMarker(ctx context.Context, m *models.ReleaseMarker) (CreateResult, error) {
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
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO release_markers (project_id, key, value, first_seen, last_seen, data)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 ON CONFLICT (project_id, key, value) DO NOTHING
		 RETURNING id`,
		m.ProjectID, m.Key, m.Value, m.FirstSeen.UTC(), m.LastSeen.UTC(), data).Scan(&m.ID)
	if err == nil {
		return Created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	stored, err := scanPostgresReleaseMarker(p.db.QueryRowContext(ctx,
		`UPDATE release_markers SET last_seen = GREATEST(last_seen, $4)
		 WHERE project_id = $1 AND key = $2 AND value = $3
		 RETURNING id, project_id, key, value, first_seen, last_seen, data`,
		m.ProjectID, m.Key, m.Value, m.LastSeen.UTC()))
	if err != nil {
		return 0, err
	}
	*m = *stored
	return Existing, nil
}

func (p *PostgresDB) GetReleaseMarker(ctx context.Context, id int64) (*models.ReleaseMarker, error) {
	return scanPostgresReleaseMarker(p.db.QueryRowContext(ctx,
		`SELECT id, project_id, key, value, first_seen, last_seen, data
		 FROM release_markers WHERE id = $1`, id))
}

func scanPostgresReleaseMarker(row *sql.Row) (*models.ReleaseMarker, error) {
	m := &models.ReleaseMarker{}
	var data []byte
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Key, &m.Value, &m.FirstSeen, &m.LastSeen, &data); err != nil {
		return nil, err
	}
	decoded, err := decodeData(data)
	if err != nil {
		return nil, err
	}
	m.Data = decoded
	return m, nil
}

func (p *PostgresDB) UpdateReleaseMarkerData(ctx context.Context, m *models.ReleaseMarker, data map[string]any) error {
	encoded, err := encodeData(data)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx,
		`UPDATE release_markers SET data = $1::jsonb WHERE id = $2`, encoded, m.ID); err != nil {
		return err
	}
	m.Data = data
	return nil
}

// --- Resolutions ---

func (p *PostgresDB) CreateResolution(ctx context.Context, r *models.Resolution) error {
	if r.Type == "" {
		r.Type = models.ResolutionInNextRelease
	}
	if r.Status == "" {
		r.Status = models.ResolutionPending
	}
	if r.DateAdded.IsZero() {
		r.DateAdded = time.Now().UTC()
	}
	return p.db.QueryRowContext(ctx,
		`INSERT INTO resolutions (issue_id, release_id, type, status, date_added)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		r.IssueID, r.ReleaseID, r.Type, r.Status, r.DateAdded.UTC()).Scan(&r.ID)
}

func (p *PostgresDB) GetResolution(ctx context.Context, issueID int64) (*models.Resolution, error) {
	r := &models.Resolution{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, issue_id, release_id, type, status, date_added FROM resolutions WHERE issue_id = $1`, issueID).
		Scan(&r.ID, &r.IssueID, &r.ReleaseID, &r.Type, &r.Status, &r.DateAdded)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresDB) ResolveExpiredResolutions(ctx context.Context, release *models.Release) ([]models.Resolution, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`UPDATE resolutions r
		 SET status = $1
		 FROM releases rel
		 WHERE rel.id = r.release_id
		   AND r.status = $2 AND r.type = $3 AND r.release_id <> $4
		   AND rel.date_added < $5
		   AND EXISTS (
			 SELECT 1 FROM release_projects a
			 JOIN release_projects b ON b.project_id = a.project_id
			 WHERE a.release_id = r.release_id AND b.release_id = $4
		   )
		 RETURNING r.id, r.issue_id, r.release_id, r.type, r.status, r.date_added`,
		models.ResolutionResolved, models.ResolutionPending, models.ResolutionInNextRelease,
		release.ID, release.DateAdded.UTC())
	if err != nil {
		return nil, err
	}
	var resolved []models.Resolution
	for rows.Next() {
		var r models.Resolution
		if err := rows.Scan(&r.ID, &r.IssueID, &r.ReleaseID, &r.Type, &r.Status, &r.DateAdded); err != nil {
			rows.Close()
			return nil, err
		}
		resolved = append(resolved, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	data, err := encodeData(map[string]any{"version": release.Version})
	if err != nil {
		return nil, err
	}
	for _, r := range resolved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE activities SET data = $1::jsonb
			 WHERE id = (
				 SELECT id FROM activities
				 WHERE issue_id = $2 AND type = $3 AND ident = $4
				 ORDER BY date_added DESC, id DESC
				 LIMIT 1
			 )`,
			data, r.IssueID, models.ActivitySetResolvedInRelease, fmt.Sprint(r.ID)); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// --- Commits ---

func (p *PostgresDB) SaveCommitAuthor(ctx context.Context, a *models.CommitAuthor) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO commit_authors (org_id, name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, email) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		a.OrgID, a.Name, strings.TrimSpace(a.Email)).Scan(&a.ID)
}

func (p *PostgresDB) GetCommitAuthor(ctx context.Context, id int64) (*models.CommitAuthor, error) {
	a := &models.CommitAuthor{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, email FROM commit_authors WHERE id = $1`, id).
		Scan(&a.ID, &a.OrgID, &a.Name, &a.Email)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *PostgresDB) FindAuthorUsers(ctx context.Context, a *models.CommitAuthor) ([]models.User, error) {
	email := strings.TrimSpace(a.Email)
	if email == "" {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.email, u.is_active, u.created_at
		 FROM users u
		 JOIN user_emails e ON e.user_id = u.id
		 JOIN org_members m ON m.user_id = u.id
		 WHERE lower(e.email) = lower($1) AND e.is_verified AND u.is_active AND m.org_id = $2
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

func (p *PostgresDB) SaveCommit(ctx context.Context, c *models.Commit) (CreateResult, error) {
	if c.DateAdded.IsZero() {
		c.DateAdded = time.Now().UTC()
	}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO commits (org_id, repository, key, message, author_id, date_added)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id, repository, key) DO NOTHING
		 RETURNING id`,
		c.OrgID, c.Repository, c.Key, c.Message, c.AuthorID, c.DateAdded.UTC()).Scan(&c.ID)
	if err == nil {
		return Created, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	stored := &models.Commit{}
	var authorID sql.NullInt64
	err = p.db.QueryRowContext(ctx,
		`SELECT id, org_id, repository, key, message, author_id, date_added
		 FROM commits WHERE org_id = $1 AND repository = $2 AND key = $3`,
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

func (p *PostgresDB) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.State == "" {
		issue.State = models.IssueStateOpen
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var projectID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE id = $1 FOR UPDATE`, issue.ProjectID).Scan(&projectID); err != nil {
		return err
	}

	var maxShortID int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(short_id), 0) FROM issues WHERE project_id = $1`, issue.ProjectID).Scan(&maxShortID); err != nil {
		return err
	}
	issue.ShortID = maxShortID + 1

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO issues (project_id, short_id, title, state)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		issue.ProjectID, issue.ShortID, issue.Title, issue.State).
		Scan(&issue.ID, &issue.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresDB) LookupIssueByShortID(ctx context.Context, orgID int64, projectSlug string, shortID int) (*models.Issue, LookupResult, error) {
	issue := &models.Issue{}
	err := p.db.QueryRowContext(ctx,
		`SELECT i.id, i.project_id, i.short_id, i.title, i.state, i.created_at
		 FROM issues i
		 JOIN projects p ON p.id = i.project_id
		 WHERE p.org_id = $1 AND p.slug = $2 AND i.short_id = $3`,
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

func (p *PostgresDB) CreateCommitResolution(ctx context.Context, link *models.CommitResolution, activities []models.Activity) (CreateResult, error) {
	if link.DateAdded.IsZero() {
		link.DateAdded = time.Now().UTC()
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commit_resolutions (issue_id, commit_id, date_added) VALUES ($1, $2, $3)`,
		link.IssueID, link.CommitID, link.DateAdded.UTC()); err != nil {
		if isPostgresUniqueErr(err) {
			return Existing, nil
		}
		return 0, err
	}
	for i := range activities {
		if err := insertPostgresActivity(ctx, tx, &activities[i]); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return Created, nil
}

func (p *PostgresDB) ListCommitResolutions(ctx context.Context, issueID int64) ([]models.CommitResolution, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT issue_id, commit_id, date_added FROM commit_resolutions WHERE issue_id = $1 ORDER BY commit_id`, issueID)
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

type sqlQueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertPostgresActivity(ctx context.Context, q sqlQueryRower, a *models.Activity) error {
	if a.DateAdded.IsZero() {
		a.DateAdded = time.Now().UTC()
	}
	data, err := encodeData(a.Data)
	if err != nil {
		return err
	}
	return q.QueryRowContext(ctx,
		`INSERT INTO activities (project_id, issue_id, type, ident, user_id, data, date_added)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 RETURNING id`,
		a.ProjectID, a.IssueID, a.Type, a.Ident, a.UserID, data, a.DateAdded.UTC()).Scan(&a.ID)
}

func (p *PostgresDB) CreateActivity(ctx context.Context, a *models.Activity) error {
	return insertPostgresActivity(ctx, p.db, a)
}

func (p *PostgresDB) ListIssueActivity(ctx context.Context, issueID int64) ([]models.Activity, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, project_id, issue_id, type, ident, user_id, data, date_added
		 FROM activities WHERE issue_id = $1 ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activities []models.Activity
	for rows.Next() {
		var a models.Activity
		var userID sql.NullInt64
		var data []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.IssueID, &a.Type, &a.Ident, &userID, &data, &a.DateAdded); err != nil {
			return nil, err
		}
		if userID.Valid {
			v := userID.Int64
			a.UserID = &v
		}
		if a.Data, err = decodeData(data); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
