package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/aibridge/internal/auth"
	"github.com/mattjoyce/aibridge/internal/capability"
	"github.com/mattjoyce/aibridge/internal/ledger"
)

// CapabilityRunner runs capabilities from JSON input. *capability.Service satisfies it.
type CapabilityRunner interface {
	Run(ctx context.Context, name capability.Name, input []byte) (any, error)
	Enabled(name capability.Name) bool
	EnabledNames() []capability.Name
}

// InvocationStore reads the invocation ledger. *ledger.Ledger satisfies it.
type InvocationStore interface {
	Get(ctx context.Context, id string) (*ledger.Entry, error)
	List(ctx context.Context, f ledger.Filter) ([]*ledger.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxConcurrent bounds in-flight capability calls; excess requests get 429.
	MaxConcurrent int
	// MaxBodyBytes bounds request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// routes maps each capability to its POST path.
var routes = map[capability.Name]string{
	capability.Analysis:       "/v1/complaints/analyze",
	capability.Similarity:     "/v1/similarity",
	capability.Chatbot:        "/v1/chatbot",
	capability.Extraction:     "/v1/extract",
	capability.Classification: "/v1/classify",
	capability.Contradiction:  "/v1/contradictions",
	capability.CallScreening:  "/v1/calls/screen",
}

// Server represents the HTTP API server
type Server struct {
	config       Config
	capabilities CapabilityRunner
	invocations  InvocationStore
	logger       *slog.Logger
	server       *http.Server
	startedAt    time.Time
	inflight     *semaphore.Weighted
}

// New creates a new API server instance. invocations may be nil when the ledger is disabled.
func New(config Config, capabilities CapabilityRunner, invocations InvocationStore, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	return &Server{
		config:       config,
		capabilities: capabilities,
		invocations:  invocations,
		logger:       logger,
		startedAt:    time.Now(),
		inflight:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // capability scripts can run for minutes
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		for _, name := range capability.Names() {
			r.With(s.requireScopes(auth.ScopeCapabilityRW)).Post(routes[name], s.handleCapability(name))
		}
		r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/v1/invocations", s.handleListInvocations)
		r.With(s.requireScopes(auth.ScopeInvocationsRO)).Get("/v1/invocations/{id}", s.handleGetInvocation)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
