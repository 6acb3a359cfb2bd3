package smarthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odvcencio/gitforge/internal/auth"
	"github.com/odvcencio/gitforge/internal/database"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// statusForError maps the error taxonomy onto HTTP status codes:
// not-found 404, collisions 409, bad credentials 401, git subprocess
// failures 502, storage I/O 500.
func statusForError(err error) int {
	var cmdErr *gitcmd.CommandError
	var ioErr *storage.IOError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.As(err, &cmdErr):
		return http.StatusBadGateway
	case errors.As(err, &ioErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	jsonError(w, err.Error(), statusForError(err))
}
