package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

type Repository struct {
	ID            int64  `json:"id"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	IsPrivate     bool   `json:"is_private"`
	// ForkOf names the source repo as "owner/name" while the fork still
	// borrows objects from it; cleared once the fork is dissolved.
	ForkOf    string    `json:"fork_of,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

type Collaborator struct {
	RepoID int64  `json:"repo_id"`
	UserID int64  `json:"user_id"`
	Role   string `json:"role"` // "admin", "write", "read"
}

const (
	RoleAdmin = "admin"
	RoleWrite = "write"
	RoleRead  = "read"
)

func IsCollaboratorRole(role string) bool {
	switch role {
	case RoleAdmin, RoleWrite, RoleRead:
		return true
	}
	return false
}

// RoleAllows reports whether a collaborator role grants the requested
// access level. Admin implies write, write implies read.
func RoleAllows(role, want string) bool {
	switch want {
	case RoleRead:
		return IsCollaboratorRole(role)
	case RoleWrite:
		return role == RoleAdmin || role == RoleWrite
	case RoleAdmin:
		return role == RoleAdmin
	}
	return false
}
