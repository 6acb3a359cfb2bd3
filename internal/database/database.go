// Package database holds the metadata store backing the repository
// engine: users, repository records, and collaborator grants. The bare
// repos themselves live on disk under internal/storage; this layer only
// answers "does alice/demo exist, is it private, who may push".
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/odvcencio/gitforge/internal/models"
)

// ErrNotFound is returned for lookups with no matching row.
var ErrNotFound = errors.New("database: not found")

// DB defines the data access interface. Implemented by SQLite and PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Repositories
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
	ListOwnerRepositories(ctx context.Context, owner string) ([]models.Repository, error)
	ListForks(ctx context.Context, forkOf string) ([]models.Repository, error)
	RenameRepository(ctx context.Context, id int64, newName string) error
	SetRepositoryForkOf(ctx context.Context, id int64, forkOf string) error
	DeleteRepository(ctx context.Context, id int64) error

	// Collaborators
	AddCollaborator(ctx context.Context, c *models.Collaborator) error
	GetCollaborator(ctx context.Context, repoID, userID int64) (*models.Collaborator, error)
	RemoveCollaborator(ctx context.Context, repoID, userID int64) error
}

// Open dispatches on the configured driver name.
func Open(driver, dsn string) (DB, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
