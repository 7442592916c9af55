// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/jeremyhahn/go-passwordless/internal/mailer"
	"github.com/jeremyhahn/go-passwordless/pkg/correlation"
	"github.com/jeremyhahn/go-passwordless/pkg/health"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
)

// maxBodyBytes bounds request bodies. Attestations are the largest.
const maxBodyBytes = 64 << 10

// Server represents the REST API server.
type Server struct {
	server     *http.Server
	router     chi.Router
	passkeys   *passkey.Service
	links      *magiclink.Service
	sessions   *session.Manager
	cookies    session.CookieConfig
	mailer     mailer.Mailer
	authorizer Authorizer
	health     *health.Checker
	limiter    *ratelimit.Limiter
	tlsConfig  *tls.Config
	logger     logger.Logger
}

// Config holds the REST server configuration.
type Config struct {
	// Address is the listen address (default ":8080").
	Address string

	Passkeys   *passkey.Service
	MagicLinks *magiclink.Service
	Sessions   *session.Manager

	// Mailer delivers magic links (default: discard).
	Mailer mailer.Mailer

	// Authorizer gates the admin routes. They are not mounted when nil.
	Authorizer Authorizer

	// Health serves the probes (default: a checker with no checks).
	Health *health.Checker

	// Limiter throttles every request per client (optional).
	Limiter *ratelimit.Limiter

	// CeremonyRequestsPerMinute bounds ceremony routes per client IP. Zero disables it.
	CeremonyRequestsPerMinute int

	// Development disables the Secure cookie attribute.
	Development bool

	// MetricsPath mounts the Prometheus handler when not empty.
	MetricsPath string

	TLSConfig *tls.Config
	Logger    logger.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Passkeys == nil {
		return nil, fmt.Errorf("passkey service is required")
	}
	if cfg.MagicLinks == nil {
		return nil, fmt.Errorf("magic link service is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.OrNop(cfg.Logger).With(logger.String("component", "rest"))
	m := cfg.Mailer
	if m == nil {
		m = mailer.NewDiscard(log)
	}
	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	s := &Server{
		passkeys:   cfg.Passkeys,
		links:      cfg.MagicLinks,
		sessions:   cfg.Sessions,
		cookies:    cfg.Sessions.NewCookieConfig(cfg.Development),
		mailer:     m,
		authorizer: cfg.Authorizer,
		health:     checker,
		limiter:    cfg.Limiter,
		tlsConfig:  cfg.TLSConfig,
		logger:     log,
	}
	s.router = s.setupRouter(cfg.CeremonyRequestsPerMinute, cfg.MetricsPath)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(ceremonyRPM int, metricsPath string) chi.Router {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware)
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware)
	r.Use(metrics.HTTPMiddleware)
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/health", s.health.ReadyHandler())
	r.Get("/health/live", s.health.LiveHandler())
	r.Get("/health/ready", s.health.ReadyHandler())
	r.Get("/health/startup", s.health.StartupHandler())
	if metricsPath != "" {
		r.Handle(metricsPath, metrics.Handler())
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(NoStore)
		r.Use(limitBody)

		r.Group(func(r chi.Router) {
			if ceremonyRPM > 0 {
				r.Use(httprate.Limit(ceremonyRPM, time.Minute,
					httprate.WithKeyFuncs(clientIPKey),
					httprate.WithLimitHandler(s.ceremonyLimited)))
			}
			r.Post("/passkey/login/begin", s.loginBegin)
			r.Post("/passkey/login/finish", s.loginFinish)
			r.Post("/magic-link", s.magicLinkRequest)
			r.Get("/magic-link/verify", s.magicLinkVerify)

			r.Group(func(r chi.Router) {
				r.Use(s.RequireSession)
				r.Post("/passkey/register/begin", s.registerBegin)
				r.Post("/passkey/register/finish", s.registerFinish)
			})
		})

		r.Get("/session", s.currentSession)
		r.Post("/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireSession)
			r.Get("/credentials", s.listOwnCredentials)
			r.Delete("/credentials/{id}", s.revokeOwnCredential)
		})
	})

	if s.authorizer != nil {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Use(NoStore)
			r.Use(limitBody)
			r.Use(s.RequireAdmin)
			r.Get("/users/{userID}/credentials", s.adminListCredentials)
			r.Post("/credentials/{id}/revoke", s.adminRevokeCredential)
		})
	}

	return r
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// clientIPKey keys httprate on the same client address the rest of the
// server uses.
func clientIPKey(r *http.Request) (string, error) {
	return ratelimit.ClientIP(r), nil
}

func (s *Server) ceremonyLimited(w http.ResponseWriter, r *http.Request) {
	metrics.RecordRateLimited(metrics.ScopeIP)
	writeError(w, msgRateLimited, http.StatusTooManyRequests)
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	var err error
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS server", logger.String("address", l.Addr().String()))
		err = s.server.ServeTLS(l, "", "")
	} else {
		s.logger.Info("starting HTTP server", logger.String("address", l.Addr().String()))
		err = s.server.Serve(l)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(l)
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
