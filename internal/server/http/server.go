// Package httpserver provides the HTTP REST API of the paper sync service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/cache"
	"github.com/helixir/paper-sync-service/internal/database"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/repository"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// PaperResolver matches free-form citations against the bibliographic service.
type PaperResolver interface {
	Resolve(ctx context.Context, q resolver.Query) (*resolver.MatchResult, error)
}

// SyncRunner starts and tracks background sync runs.
type SyncRunner interface {
	StartWith(ctx context.Context, papers []*domain.Paper, o librarysync.Overrides) (uuid.UUID, error)
	Get(id uuid.UUID) (librarysync.RunState, bool)
	Subscribe(id uuid.UUID) (<-chan librarysync.Progress, func(), bool)
	Cancel(id uuid.UUID) bool
}

// PreviewCache serves PDFs for viewing without touching the library.
type PreviewCache interface {
	DownloadForPaper(ctx context.Context, p *domain.Paper, proxy string, progress chan<- acquisition.Progress) (*cache.DownloadResult, error)
	Stats() cache.Stats
	Clear()
}

// SourceProber reports the health of the configured remote services.
type SourceProber interface {
	ProbeAll(ctx context.Context) []papersources.ProbeResult
}

// HealthChecker reports database health.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Resolver PaperResolver
	Runner   SyncRunner
	Cache    PreviewCache
	Sources  SourceProber
	DB       HealthChecker
	Papers   repository.PaperRepository
	Runs     repository.SyncRunRepository
}

// Server is the HTTP REST API server.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	deps        Deps
	proxyPrefix string
	validate    *validator.Validate
	logger      zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// ProxyPrefix is applied to publisher URLs on preview downloads.
	ProxyPrefix string
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:        deps,
		proxyPrefix: cfg.ProxyPrefix,
		validate:    newValidator(),
		logger:      logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/resolve", s.resolvePaper)
		r.Post("/preview", s.previewPDF)

		r.Get("/papers", s.listPapers)
		r.Get("/papers/{paperID}", s.getPaper)
		r.Get("/papers/{paperID}/references", s.listPaperLinks(repository.LinkKindReference))
		r.Get("/papers/{paperID}/citations", s.listPaperLinks(repository.LinkKindCitation))

		r.Post("/sync", s.startSync)
		r.Get("/sync", s.listSyncRuns)
		r.Get("/sync/{runID}", s.getSyncRun)
		r.Delete("/sync/{runID}", s.cancelSyncRun)
		r.Get("/sync/{runID}/stream", s.streamProgress)

		r.Get("/cache/stats", s.cacheStats)
		r.Delete("/cache", s.clearCache)

		r.Get("/sources", s.listSources)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	health := s.deps.DB.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status. Remote sources are not probed
// here; GET /api/v1/sources does that.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	health := s.deps.DB.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
