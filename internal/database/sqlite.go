package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/odvcencio/gitforge/internal/models"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
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
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	fork_of TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS collaborators (
	repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL DEFAULT 'read',
	PRIMARY KEY (repo_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_repositories_owner ON repositories(owner, name);
CREATE INDEX IF NOT EXISTS idx_repositories_fork_of ON repositories(fork_of);
`

// --- Users ---

func (s *SQLiteDB) CreateUser(ctx context.Context, u *models.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES (?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.IsAdmin)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = ?`, username))
}

// --- Repositories ---

func (s *SQLiteDB) CreateRepository(ctx context.Context, r *models.Repository) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (owner, name, description, default_branch, is_private, fork_of)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.Owner, r.Name, r.Description, defaultBranch(r), r.IsPrivate, r.ForkOf)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	return scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE owner = ? AND name = ?`, owner, name))
}

func (s *SQLiteDB) ListOwnerRepositories(ctx context.Context, owner string) ([]models.Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE owner = ? ORDER BY name`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (s *SQLiteDB) ListForks(ctx context.Context, forkOf string) ([]models.Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE fork_of = ? ORDER BY owner, name`, forkOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (s *SQLiteDB) RenameRepository(ctx context.Context, id int64, newName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET name = ? WHERE id = ?`, newName, id)
	return err
}

func (s *SQLiteDB) SetRepositoryForkOf(ctx context.Context, id int64, forkOf string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET fork_of = ? WHERE id = ?`, forkOf, id)
	return err
}

func (s *SQLiteDB) DeleteRepository(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	return err
}

// --- Collaborators ---

func (s *SQLiteDB) AddCollaborator(ctx context.Context, c *models.Collaborator) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collaborators (repo_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(repo_id, user_id) DO UPDATE SET role = excluded.role`,
		c.RepoID, c.UserID, c.Role)
	return err
}

func (s *SQLiteDB) GetCollaborator(ctx context.Context, repoID, userID int64) (*models.Collaborator, error) {
	c := &models.Collaborator{}
	err := s.db.QueryRowContext(ctx,
		`SELECT repo_id, user_id, role FROM collaborators WHERE repo_id = ? AND user_id = ?`,
		repoID, userID).Scan(&c.RepoID, &c.UserID, &c.Role)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return c, nil
}

func (s *SQLiteDB) RemoveCollaborator(ctx context.Context, repoID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collaborators WHERE repo_id = ? AND user_id = ?`, repoID, userID)
	return err
}

// --- scan helpers shared by both backends ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, mapNoRows(err)
	}
	return u, nil
}

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.Description, &r.DefaultBranch,
		&r.IsPrivate, &r.ForkOf, &r.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return r, nil
}

func collectRepositories(rows *sql.Rows) ([]models.Repository, error) {
	var out []models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func defaultBranch(r *models.Repository) string {
	if r.DefaultBranch == "" {
		return "main"
	}
	return r.DefaultBranch
}
