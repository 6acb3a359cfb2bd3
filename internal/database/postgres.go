package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/odvcencio/gitforge/internal/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDB struct {
	db *sql.DB
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
	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS repositories (
	id BIGSERIAL PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	fork_of TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS collaborators (
	repo_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL DEFAULT 'read',
	PRIMARY KEY (repo_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_repositories_owner ON repositories(owner, name);
CREATE INDEX IF NOT EXISTS idx_repositories_fork_of ON repositories(fork_of);
`

// --- Users ---

func (p *PostgresDB) CreateUser(ctx context.Context, u *models.User) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.IsAdmin).Scan(&u.ID)
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(p.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = $1`, username))
}

// --- Repositories ---

func (p *PostgresDB) CreateRepository(ctx context.Context, r *models.Repository) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO repositories (owner, name, description, default_branch, is_private, fork_of)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.Owner, r.Name, r.Description, defaultBranch(r), r.IsPrivate, r.ForkOf).Scan(&r.ID)
}

func (p *PostgresDB) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	return scanRepository(p.db.QueryRowContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE owner = $1 AND name = $2`, owner, name))
}

func (p *PostgresDB) ListOwnerRepositories(ctx context.Context, owner string) ([]models.Repository, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE owner = $1 ORDER BY name`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (p *PostgresDB) ListForks(ctx context.Context, forkOf string) ([]models.Repository, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner, name, description, default_branch, is_private, fork_of, created_at
		 FROM repositories WHERE fork_of = $1 ORDER BY owner, name`, forkOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRepositories(rows)
}

func (p *PostgresDB) RenameRepository(ctx context.Context, id int64, newName string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE repositories SET name = $1 WHERE id = $2`, newName, id)
	return err
}

func (p *PostgresDB) SetRepositoryForkOf(ctx context.Context, id int64, forkOf string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE repositories SET fork_of = $1 WHERE id = $2`, forkOf, id)
	return err
}

func (p *PostgresDB) DeleteRepository(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	return err
}

// --- Collaborators ---

func (p *PostgresDB) AddCollaborator(ctx context.Context, c *models.Collaborator) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO collaborators (repo_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (repo_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		c.RepoID, c.UserID, c.Role)
	return err
}

func (p *PostgresDB) GetCollaborator(ctx context.Context, repoID, userID int64) (*models.Collaborator, error) {
	c := &models.Collaborator{}
	err := p.db.QueryRowContext(ctx,
		`SELECT repo_id, user_id, role FROM collaborators WHERE repo_id = $1 AND user_id = $2`,
		repoID, userID).Scan(&c.RepoID, &c.UserID, &c.Role)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return c, nil
}

func (p *PostgresDB) RemoveCollaborator(ctx context.Context, repoID, userID int64) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM collaborators WHERE repo_id = $1 AND user_id = $2`, repoID, userID)
	return err
}
