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

// Package server assembles the passwordless services from a Config and
// runs the HTTP listener and the background sweeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/jeremyhahn/go-passwordless/internal/config"
	"github.com/jeremyhahn/go-passwordless/internal/mailer"
	"github.com/jeremyhahn/go-passwordless/internal/rest"
	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/health"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/sweeper"
)

// Server owns every long-lived component of a running instance.
type Server struct {
	config *config.Config
	logger *logger.SlogAdapter

	store    store.Store
	passkeys *passkey.Service
	links    *magiclink.Service
	sessions *session.Manager
	mailer   mailer.Mailer
	limiter  *ratelimit.Limiter
	health   *health.Checker
	cleaner  *sweeper.Cleaner
	rest     *rest.Server

	mu          sync.Mutex
	addr        string
	stopSweeper context.CancelFunc
	closed      bool
}

// New builds a server from cfg, which must already be validated. Logs
// are written to w, or stdout when w is nil.
func New(cfg *config.Config, w io.Writer) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if w == nil {
		w = os.Stdout
	}

	log, err := logger.New(cfg.Logging, w)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	st, err := OpenStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	s := &Server{config: cfg, logger: log, store: st}
	if err := s.initialize(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) initialize() error {
	cfg := s.config
	clk := clock.Real{}

	sessions, err := session.NewManager(session.ManagerParams{
		Store:  s.store,
		Config: &cfg.Session,
		Clock:  clk,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	s.sessions = sessions

	passkeys, err := passkey.NewService(passkey.ServiceParams{
		Config:   &cfg.RelyingParty,
		Store:    s.store,
		Sessions: sessions,
		Clock:    clk,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create passkey service: %w", err)
	}
	s.passkeys = passkeys

	links, err := magiclink.NewService(magiclink.ServiceParams{
		Store:  s.store,
		Config: &cfg.MagicLink,
		Clock:  clk,
		Logger: s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create magic link service: %w", err)
	}
	s.links = links

	s.mailer, err = NewMailer(cfg.SMTP, s.logger)
	if err != nil {
		return err
	}

	var authz rest.Authorizer
	if cfg.Admin.Enabled() {
		authz, err = rest.NewJWTAuthorizer(rest.JWTAuthorizerConfig{
			Secret:   []byte(cfg.Admin.JWTSecret),
			Issuer:   cfg.Admin.Issuer,
			Audience: cfg.Admin.Audience,
			Role:     cfg.Admin.Role,
		})
		if err != nil {
			return fmt.Errorf("failed to create admin authorizer: %w", err)
		}
	}

	if cfg.RateLimit.Global.Enabled {
		s.limiter = ratelimit.New(&cfg.RateLimit.Global)
	}

	s.health = health.NewChecker()
	s.health.RegisterPinger("store", s.store)

	s.cleaner = sweeper.New(sweeper.Params{
		Challenges: s.store,
		MagicLinks: links,
		Sessions:   sessions,
		Limiters:   []sweeper.Pruner{links},
		Clock:      clk,
		Logger:     s.logger,
	})

	tlsConfig, err := cfg.Server.TLS.LoadTLSConfig()
	if err != nil {
		return err
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	s.rest, err = rest.NewServer(&rest.Config{
		Address:                   cfg.Server.Address,
		Passkeys:                  passkeys,
		MagicLinks:                links,
		Sessions:                  sessions,
		Mailer:                    s.mailer,
		Authorizer:                authz,
		Health:                    s.health,
		Limiter:                   s.limiter,
		CeremonyRequestsPerMinute: cfg.RateLimit.CeremonyRequestsPerMinute,
		Development:               cfg.IsDevelopment(),
		MetricsPath:               metricsPath,
		TLSConfig:                 tlsConfig,
		Logger:                    s.logger,
		ReadTimeout:               cfg.Server.ReadTimeout,
		WriteTimeout:              cfg.Server.WriteTimeout,
		IdleTimeout:               cfg.Server.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}
	return nil
}

// NewMailer returns an SMTP mailer, or a mailer that only logs when no
// relay is configured.
func NewMailer(cfg config.SMTPConfig, log logger.Logger) (mailer.Mailer, error) {
	if !cfg.Enabled() {
		return mailer.NewDiscard(log), nil
	}
	m, err := mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	}, nil, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}
	return m, nil
}

// Run listens on the configured address and serves until ctx is done,
// then shuts down within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Address, err)
	}

	s.mu.Lock()
	s.addr = l.Addr().String()
	if s.config.Sweeper.Enabled {
		s.stopSweeper = s.cleaner.StartCleanupRoutine(ctx, s.config.Sweeper.Interval)
	}
	s.mu.Unlock()

	s.logger.Info("passwordless server starting",
		logger.String("version", BuildVersion()),
		logger.String("address", s.addr),
		logger.String("runtime", string(s.config.Runtime)),
		logger.String("rp_id", s.config.RelyingParty.RPID),
		logger.String("storage", s.config.Storage.Backend))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.rest.Serve(l)
	}()
	s.health.MarkStarted()

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the listener, the sweeper and the limiter, then closes
// the store. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stopSweeper
	s.mu.Unlock()

	s.logger.Info("shutting down")
	s.health.MarkNotStarted()

	var errs []error
	if err := s.rest.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if stop != nil {
		stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", logger.Error(err))
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}

	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Sweep runs one cleanup pass.
func (s *Server) Sweep(ctx context.Context) (sweeper.Result, error) {
	return s.cleaner.RunOnce(ctx)
}

// Addr returns the bound listen address once Run has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Store returns the record store.
func (s *Server) Store() store.Store {
	return s.store
}

// Passkeys returns the passkey service.
func (s *Server) Passkeys() *passkey.Service {
	return s.passkeys
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// REST returns the HTTP server.
func (s *Server) REST() *rest.Server {
	return s.rest
}

// Logger returns the server logger.
func (s *Server) Logger() logger.Logger {
	return s.logger
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// BuildVersion retrieves the version from build information
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
