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

// Package session manages server-side login sessions.
//
// The client holds a random secret in a cookie; the store only ever sees
// its SHA-256 hash. A session is valid while it is younger than MaxAge and
// was active within IdleTimeout. Both bounds are checked on every read, and
// Sweep removes sessions past either bound in bulk.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/token"
)

const (
	// DefaultMaxAge is the absolute session lifetime.
	DefaultMaxAge = 7 * 24 * time.Hour

	// DefaultIdleTimeout is how long a session survives without activity.
	DefaultIdleTimeout = 24 * time.Hour

	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "pl_session"
)

// ErrNoAccount is returned when a session is requested for an identity that
// did not resolve to an account.
var ErrNoAccount = errors.New("session: identity has no account")

// Config holds the session timeouts and cookie name.
type Config struct {
	MaxAge      time.Duration `yaml:"max_age" json:"max_age" mapstructure:"max_age"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" mapstructure:"idle_timeout"`
	CookieName  string        `yaml:"cookie_name" json:"cookie_name" mapstructure:"cookie_name"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxAge == 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.CookieName == "" {
		c.CookieName = DefaultCookieName
	}
}

// Validate checks that both timeouts are positive and consistent.
func (c *Config) Validate() error {
	if c.MaxAge <= 0 {
		return fmt.Errorf("session max age must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("session idle timeout must be positive")
	}
	if c.IdleTimeout > c.MaxAge {
		return fmt.Errorf("session idle timeout %s exceeds max age %s", c.IdleTimeout, c.MaxAge)
	}
	return nil
}

// ManagerParams contains dependencies for creating a Manager.
type ManagerParams struct {
	// Store persists sessions (required).
	Store store.SessionStore

	// Config defaults to DefaultMaxAge and DefaultIdleTimeout.
	Config *Config

	Clock  clock.Clock
	Logger logger.Logger
}

// Manager creates, validates and destroys sessions.
type Manager struct {
	store  store.SessionStore
	config Config
	clock  clock.Clock
	log    logger.Logger
}

// NewManager creates a session manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	var cfg Config
	if params.Config != nil {
		cfg = *params.Config
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		store:  params.Store,
		config: cfg,
		clock:  clock.OrReal(params.Clock),
		log:    logger.OrNop(params.Logger).With(logger.String("component", "session")),
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Create opens a session for id and returns the secret for the cookie. The
// secret itself is never stored.
func (m *Manager) Create(ctx context.Context, id store.Identity, ip, userAgent string) (string, error) {
	if !id.HasAccount() {
		return "", ErrNoAccount
	}

	secret, err := token.New()
	if err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}

	now := m.clock.Now()
	s := &store.Session{
		ID:             token.Hash(secret),
		UserID:         id.UserID,
		AccountID:      id.AccountID,
		MemberID:       id.MemberID,
		Email:          id.Email,
		Role:           id.Role,
		IP:             ip,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	metrics.RecordSessions(metrics.EventCreated, 1)
	m.log.InfoContext(ctx, "session created", logger.String("account_id", id.AccountID))
	return secret, nil
}

// Validate returns the session for secret and refreshes its activity. A
// missing or expired session yields nil without error; an expired record is
// deleted. Only store failures are returned as errors.
func (m *Manager) Validate(ctx context.Context, secret string) (*store.Session, error) {
	if secret == "" {
		return nil, nil
	}

	id := token.Hash(secret)
	s, err := m.store.GetSession(ctx, id)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := m.clock.Now()
	if m.expired(s, now) {
		if err := m.store.DeleteSession(ctx, id); err != nil && !store.IsNotFound(err) {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		metrics.RecordSessions(metrics.EventExpired, 1)
		m.log.DebugContext(ctx, "session expired", logger.String("account_id", s.AccountID))
		return nil, nil
	}

	if err := m.store.TouchSession(ctx, id, now); err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}
	s.LastActivityAt = now
	return s, nil
}

// expired reports whether s is past its absolute or idle bound at now.
func (m *Manager) expired(s *store.Session, now time.Time) bool {
	return now.Sub(s.CreatedAt) > m.config.MaxAge ||
		now.Sub(s.LastActivityAt) > m.config.IdleTimeout
}

// Destroy ends the session for secret. Destroying an unknown session is not an error.
func (m *Manager) Destroy(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, token.Hash(secret)); err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("destroy session: %w", err)
	}
	metrics.RecordSessions(metrics.EventDestroyed, 1)
	return nil
}

// DestroyAllForAccount ends every session of accountID and returns how
// many were removed. It is called when a credential is revoked and is the
// hook for account disablement.
func (m *Manager) DestroyAllForAccount(ctx context.Context, accountID string) (int, error) {
	n, err := m.store.DeleteAccountSessions(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("destroy account sessions: %w", err)
	}
	metrics.RecordSessions(metrics.EventRevoked, n)
	if n > 0 {
		m.log.InfoContext(ctx, "account sessions destroyed",
			logger.String("account_id", accountID),
			logger.Int("count", n))
	}
	return n, nil
}

// Sweep removes every session past either bound at now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := m.store.DeleteStaleSessions(ctx, now.Add(-m.config.IdleTimeout), now.Add(-m.config.MaxAge))
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	metrics.RecordSessions(metrics.EventExpired, n)
	return n, nil
}
