// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/api/alerts"
	"github.com/good-yellow-bee/brokerwatch/internal/api/health"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address         string
	HTTPTLSEnabled  bool
	HTTPTLSCertFile string
	HTTPTLSKeyFile  string
	RateLimitPerIP  int           // requests per minute per client IP
	PassTimeout     time.Duration // bound for analysis and tracking passes
	Verbose         bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerIP == 0 {
		c.RateLimitPerIP = 120
	}
	if c.PassTimeout == 0 {
		c.PassTimeout = 30 * time.Second
	}
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	Engine      alerts.Engine
	Servers     alerts.Servers
	Resolved    storage.ResolvedAlertRepository
	Preferences storage.PreferencesRepository
	Health      *health.Handler
	Logger      *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	server *http.Server
	health *health.Handler
	logger *zap.Logger
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Engine == nil || deps.Servers == nil {
		return nil, fmt.Errorf("engine and server registry are required")
	}
	if deps.Resolved == nil || deps.Preferences == nil {
		return nil, fmt.Errorf("storage repositories are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = health.NewHandler()
	}
	cfg.SetDefaults()

	s := &Server{
		config: cfg,
		health: deps.Health,
		logger: deps.Logger,
	}
	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: NewRouter(cfg, deps),
		// Tracking passes dispatch notifications, so writes may take as
		// long as a pass plus encoding.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PassTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return s, nil
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.config.Address), zap.Bool("tls", s.config.HTTPTLSEnabled))
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.health.RegisterChecker(c)
}
