// Package smarthttp serves the Git Smart HTTP protocol: ref
// advertisement on GET info/refs and the stateless-RPC upload-pack and
// receive-pack exchanges, with authentication, authorization and
// metrics around them.
package smarthttp

import (
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/odvcencio/gitforge/internal/auth"
	"github.com/odvcencio/gitforge/internal/database"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

type Server struct {
	db      database.DB
	authSvc *auth.Service
	store   *storage.Manager
	git     *gitcmd.Runner
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
}

func NewServer(db database.DB, authSvc *auth.Service, store *storage.Manager, git *gitcmd.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      db,
		authSvc: authSvc,
		store:   store,
		git:     git,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	s.handler = requestLoggingMiddleware(s.logger,
		requestMetricsMiddleware(defaultWireMetrics(), s.mux))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /git/{owner}/{repo}/info/refs", s.handleInfoRefs)
	s.mux.HandleFunc("POST /git/{owner}/{repo}/git-upload-pack", s.handleUploadPack)
	s.mux.HandleFunc("POST /git/{owner}/{repo}/git-receive-pack", s.handleReceivePack)

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", metricsHandler(nil))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.GetUserByID(r.Context(), 0); err != nil && !errors.Is(err, database.ErrNotFound) {
		jsonError(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := os.Stat(s.store.Layout().Base()); err != nil {
		jsonError(w, "storage root unavailable", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
