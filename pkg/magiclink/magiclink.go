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

// Package magiclink implements the email link fallback used for account
// recovery and first-time enrollment.
//
// A link carries a random token; only its SHA-256 hash is stored. Links are
// single use and expire after TTL. Requests are limited per email and per
// client IP over a rolling window, and both limits are checked before either
// is charged.
package magiclink

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/token"
)

const (
	DefaultTTL        = 15 * time.Minute
	DefaultEmailLimit = 3
	DefaultIPLimit    = 6
	DefaultWindow     = time.Minute

	ruleEmail = metrics.ScopeEmail
	ruleIP    = metrics.ScopeIP
)

// Config controls link lifetime and request limits.
type Config struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl"`
	BaseURL    string        `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	EmailLimit int           `yaml:"email_limit" json:"email_limit" mapstructure:"email_limit"`
	IPLimit    int           `yaml:"ip_limit" json:"ip_limit" mapstructure:"ip_limit"`
	Window     time.Duration `yaml:"window" json:"window" mapstructure:"window"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.EmailLimit == 0 {
		c.EmailLimit = DefaultEmailLimit
	}
	if c.IPLimit == 0 {
		c.IPLimit = DefaultIPLimit
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("magic link ttl must be positive")
	}
	if c.EmailLimit <= 0 || c.IPLimit <= 0 {
		return fmt.Errorf("magic link limits must be positive")
	}
	if c.Window <= 0 {
		return fmt.Errorf("magic link window must be positive")
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("magic link base url %q must be absolute", c.BaseURL)
		}
	}
	return nil
}

// Store is the storage the service needs.
type Store interface {
	store.MagicLinkStore
	store.AccountStore
}

// ServiceParams contains dependencies for creating a Service.
type ServiceParams struct {
	// Store persists links and resolves accounts (required).
	Store Store

	Config *Config
	Clock  clock.Clock
	Logger logger.Logger
}

// Service issues and verifies magic links.
type Service struct {
	store   Store
	config  Config
	clock   clock.Clock
	limiter *ratelimit.SlidingLog
	log     logger.Logger
}

// NewService creates a magic link service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	var cfg Config
	if params.Config != nil {
		cfg = *params.Config
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := clock.OrReal(params.Clock)
	limiter, err := ratelimit.NewSlidingLog(c,
		ratelimit.Rule{Name: ruleEmail, Limit: cfg.EmailLimit, Window: cfg.Window},
		ratelimit.Rule{Name: ruleIP, Limit: cfg.IPLimit, Window: cfg.Window},
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:   params.Store,
		config:  cfg,
		clock:   c,
		limiter: limiter,
		log:     logger.OrNop(params.Logger).With(logger.String("component", "magiclink")),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.config
}

// Request issues a link for email and returns its token. Unknown addresses
// receive a link too, so callers cannot tell them apart from the response.
func (s *Service) Request(ctx context.Context, email, ip string, purpose store.MagicLinkPurpose) (string, time.Time, error) {
	tok, expires, err := s.request(ctx, email, ip, purpose)
	metrics.RecordMagicLink(metrics.OpRequest, outcome(err))
	return tok, expires, err
}

func (s *Service) request(ctx context.Context, email, ip string, purpose store.MagicLinkPurpose) (string, time.Time, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return "", time.Time{}, err
	}
	if purpose == "" {
		purpose = store.PurposeLogin
	}
	if !purpose.Valid() {
		return "", time.Time{}, ErrInvalidPurpose
	}

	hits := []ratelimit.Hit{{Rule: ruleEmail, Key: email}}
	if ip != "" {
		hits = append(hits, ratelimit.Hit{Rule: ruleIP, Key: ip})
	}
	decision, err := s.limiter.Allow(hits...)
	if err != nil {
		return "", time.Time{}, wrap("request", err)
	}
	if !decision.Allowed {
		metrics.RecordRateLimited(decision.Rule)
		s.log.WarnContext(ctx, "magic link rate limited",
			logger.String("scope", decision.Rule),
			logger.Duration("retry_after", decision.RetryAfter))
		return "", time.Time{}, &RateLimitError{Scope: decision.Rule, RetryAfter: decision.RetryAfter}
	}

	var accountID string
	acct, err := s.store.FindAccountByEmail(ctx, email)
	switch {
	case err == nil:
		accountID = acct.ID
	case !store.IsNotFound(err):
		return "", time.Time{}, wrap("request", err)
	}

	tok, err := token.New()
	if err != nil {
		return "", time.Time{}, wrap("request", err)
	}

	now := s.clock.Now()
	link := &store.MagicLink{
		ID:        uuid.NewString(),
		TokenHash: token.Hash(tok),
		Email:     email,
		AccountID: accountID,
		Purpose:   purpose,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}
	if err := s.store.CreateMagicLink(ctx, link); err != nil {
		return "", time.Time{}, wrap("request", err)
	}

	s.log.InfoContext(ctx, "magic link issued",
		logger.String("link_id", link.ID),
		logger.String("purpose", string(purpose)),
		logger.Bool("known_account", accountID != ""))
	return tok, link.ExpiresAt, nil
}

// Verification is the outcome of a consumed link.
type Verification struct {
	Identity store.Identity
	Purpose  store.MagicLinkPurpose
}

// Verify consumes the link for tok and resolves its identity. A link for an
// address with no account yields an identity carrying only the email.
func (s *Service) Verify(ctx context.Context, tok string) (Verification, error) {
	v, err := s.verify(ctx, tok)
	metrics.RecordMagicLink(metrics.OpVerify, outcome(err))
	return v, err
}

func (s *Service) verify(ctx context.Context, tok string) (Verification, error) {
	if tok == "" {
		return Verification{}, ErrInvalidOrExpired
	}

	link, err := s.store.ConsumeMagicLink(ctx, token.Hash(tok), s.clock.Now())
	switch {
	case store.IsNotFound(err):
		return Verification{}, ErrInvalidOrExpired
	case err != nil:
		return Verification{}, wrap("verify", err)
	}

	acct, err := s.account(ctx, link)
	if err != nil {
		return Verification{}, wrap("verify", err)
	}
	if acct == nil {
		s.log.InfoContext(ctx, "magic link verified without account", logger.String("link_id", link.ID))
		return Verification{Identity: store.Identity{Email: link.Email}, Purpose: link.Purpose}, nil
	}
	if !acct.Active {
		return Verification{}, wrap("verify", store.ErrAccountDisabled)
	}

	s.log.InfoContext(ctx, "magic link verified",
		logger.String("link_id", link.ID),
		logger.String("account_id", acct.ID))
	return Verification{Identity: acct.Identity(), Purpose: link.Purpose}, nil
}

// account resolves the link's account, or nil when there is none.
func (s *Service) account(ctx context.Context, link *store.MagicLink) (*store.Account, error) {
	var (
		acct *store.Account
		err  error
	)
	if link.AccountID != "" {
		acct, err = s.store.GetAccount(ctx, link.AccountID)
	} else {
		acct, err = s.store.FindAccountByEmail(ctx, link.Email)
	}
	if store.IsNotFound(err) {
		return nil, nil
	}
	return acct, err
}

// LinkURL returns the URL sent to the user for tok.
func (s *Service) LinkURL(tok string) string {
	base := s.config.BaseURL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(tok)
}

// Sweep removes links that expired before now.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.DeleteExpiredMagicLinks(ctx, now)
	if err != nil {
		return 0, wrap("sweep", err)
	}
	return n, nil
}

// PruneLimiter drops rate limit keys with no events left in the window.
func (s *Service) PruneLimiter() int {
	return s.limiter.Prune()
}

// ValidateEmail normalizes email and checks that it is a bare address.
func ValidateEmail(email string) (string, error) {
	email = store.NormalizeEmail(email)
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
