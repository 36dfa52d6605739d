package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/engine"
	"github.com/lazypower/lore/internal/store"
)

// Server is the lore HTTP API server.
type Server struct {
	eng     *engine.Engine
	db      *store.DB
	log     *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over eng.
func New(eng *engine.Engine, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		eng:     eng,
		db:      eng.DB,
		log:     logger,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/bundle", s.handleBundle)
		r.Get("/graph/edges", s.handleEdges)

		r.Route("/governance", func(r chi.Router) {
			r.Post("/dedupe", s.handleDedupe)
			r.Post("/rollback-run", s.handleRollbackRun)
			r.Post("/auto-deprecate", s.handleAutoDeprecate)
		})

		r.Route("/{kind}", func(r chi.Router) {
			r.Get("/search", s.handleSearch)
			r.Post("/", s.handleCreate)
			r.Get("/{id}", s.handleGet)
			r.Put("/{id}", s.handleUpdate)
			r.Delete("/{id}", s.handleDelete)
			r.Get("/{id}/versions", s.handleVersions)
			r.Post("/{id}/status", s.handleStatus)
			r.Post("/{id}/rollback", s.handleRollback)
			r.Get("/{id}/executions", s.handleExecutions)
			r.Post("/{id}/executions", s.handleRecordExecution)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}
	fts := map[string]bool{}
	for _, k := range store.Kinds {
		ok, _ := s.db.FTSExists(r.Context(), k)
		fts[string(k)] = ok
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"fts":     fts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps store sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidStatus), errors.Is(err, store.ErrNoPreviousVersion):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidSnapshot):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, code, err.Error())
}
