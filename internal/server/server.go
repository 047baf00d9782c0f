// ABOUTME: Server orchestrator wiring store, auth, permissions, and the HTTP API
// ABOUTME: Manages listener setup, startup, and graceful shutdown lifecycle

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/runbookhq/runbook-gateway/internal/auth"
	"github.com/runbookhq/runbook-gateway/internal/config"
	"github.com/runbookhq/runbook-gateway/internal/permissions"
	"github.com/runbookhq/runbook-gateway/internal/query"
	"github.com/runbookhq/runbook-gateway/internal/store"
)

// Server orchestrates the runbook-gateway components: the SQLite store,
// the permission provider, the authenticator, and the HTTP API that ties
// them together.
type Server struct {
	config     *config.Config
	store      *store.SQLiteStore
	provider   permissions.Provider
	authn      *auth.Authenticator
	queries    *query.Orchestrator
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("RUNBOOK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// New creates a fully wired server. Permission provider misconfiguration
// is fatal here, at startup, never deferred to request time.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	provider, err := permissions.NewProvider(cfg, s.DB())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("initializing permission provider: %w", err)
	}

	authn := auth.NewAuthenticator(auth.Config{
		Production:        cfg.IsProduction(),
		OIDCIssuer:        cfg.Auth.OIDCIssuer,
		OIDCAudience:      cfg.Auth.OIDCAudience,
		APIKeyIssuer:      cfg.Auth.APIKeyIssuer,
		SharedSecret:      cfg.Auth.SharedSecret,
		AllowSharedSecret: cfg.Auth.AllowSharedSecret,
	}, auth.NewKeySetCache(), s, logger)

	srv := &Server{
		config:   cfg,
		store:    s,
		provider: provider,
		authn:    authn,
		queries:  query.NewOrchestrator(provider, s),
		logger:   logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/health/ready", srv.handleReady)

	// API endpoints - every request authenticates
	authMiddleware := auth.Middleware(authn)
	mux.Handle("/api/me", authMiddleware(http.HandlerFunc(srv.handleMe)))
	mux.Handle("/api/runbooks", authMiddleware(http.HandlerFunc(srv.handleRunbooks)))
	mux.Handle("/api/runbooks/", authMiddleware(http.HandlerFunc(srv.handleRunbookRoutes)))

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutting down HTTP server: %w", err)
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing store: %w", err)
	}
	return firstErr
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handleReady reports readiness: the database must answer a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"unavailable"}`)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}
