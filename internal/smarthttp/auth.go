package smarthttp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/odvcencio/gitforge/internal/auth"
	"github.com/odvcencio/gitforge/internal/database"
	"github.com/odvcencio/gitforge/internal/models"
)

// authorizeRepoAccess resolves the repository and decides whether this
// request may read or write it. Public repos allow anonymous reads;
// everything else needs credentials and a matching grant. The returned
// user is nil for anonymous access.
func (s *Server) authorizeRepoAccess(r *http.Request, owner, name string, write bool) (*models.Repository, *models.User, int, error) {
	repo, err := s.db.GetRepository(r.Context(), owner, name)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, http.StatusNotFound, fmt.Errorf("repository not found")
		}
		return nil, nil, http.StatusInternalServerError, fmt.Errorf("repository lookup failed")
	}
	if !s.store.Exists(owner, name) {
		return nil, nil, http.StatusNotFound, fmt.Errorf("repository not found")
	}

	user, authenticated, status, err := s.authenticateRequest(r)
	if err != nil {
		return nil, nil, status, err
	}

	// Anonymous read is allowed for public repos.
	if !write && !repo.IsPrivate {
		return repo, user, http.StatusOK, nil
	}

	if !authenticated || user == nil {
		return nil, nil, http.StatusUnauthorized, fmt.Errorf("authentication required")
	}

	allowed, err := s.userHasRepoAccess(r, repo, user, write)
	if err != nil {
		return nil, nil, http.StatusInternalServerError, fmt.Errorf("authorization failed")
	}
	if !allowed {
		return nil, nil, http.StatusForbidden, fmt.Errorf("forbidden")
	}
	return repo, user, http.StatusOK, nil
}

func (s *Server) authenticateRequest(r *http.Request) (*models.User, bool, int, error) {
	creds, ok := auth.FromRequest(r)
	if !ok {
		return nil, false, http.StatusOK, nil
	}

	if creds.IsBearer() {
		claims, err := s.authSvc.ValidateToken(creds.Token)
		if err != nil {
			return nil, false, http.StatusUnauthorized, fmt.Errorf("invalid token")
		}
		// Attach the claims so later stages (access logging, hooks env)
		// can see who the token belongs to without re-parsing it.
		*r = *r.WithContext(auth.WithClaims(r.Context(), claims))
		u, err := s.db.GetUserByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, false, http.StatusUnauthorized, fmt.Errorf("invalid token")
			}
			return nil, false, http.StatusInternalServerError, fmt.Errorf("user lookup failed")
		}
		return u, true, http.StatusOK, nil
	}

	u, err := s.db.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, false, http.StatusUnauthorized, fmt.Errorf("invalid credentials")
		}
		return nil, false, http.StatusInternalServerError, fmt.Errorf("user lookup failed")
	}
	if err := s.authSvc.CheckPassword(u.PasswordHash, creds.Password); err != nil {
		return nil, false, http.StatusUnauthorized, fmt.Errorf("invalid credentials")
	}
	return u, true, http.StatusOK, nil
}

func (s *Server) userHasRepoAccess(r *http.Request, repo *models.Repository, user *models.User, write bool) (bool, error) {
	if repo.Owner == user.Username || user.IsAdmin {
		return true, nil
	}

	collab, err := s.db.GetCollaborator(r.Context(), repo.ID, user.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	want := models.RoleRead
	if write {
		want = models.RoleWrite
	}
	return models.RoleAllows(collab.Role, want), nil
}

// challengeAuth asks a git client to retry with credentials. Git only
// sends Basic auth after seeing this challenge.
func challengeAuth(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="gitforge"`)
	jsonError(w, message, http.StatusUnauthorized)
}
