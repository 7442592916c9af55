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

package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// Store is the persistence the ceremonies need.
type Store interface {
	store.ChallengeStore
	store.CredentialStore
	store.AccountStore
	store.Ceremonies
}

// SessionRevoker invalidates sessions when a credential is revoked.
// session.Manager satisfies it.
type SessionRevoker interface {
	DestroyAllForAccount(ctx context.Context, accountID string) (int, error)
}

// Service runs the passkey ceremonies.
type Service struct {
	config   *Config
	verifier Verifier
	store    Store
	sessions SessionRevoker
	clock    clock.Clock
	log      logger.Logger
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the relying party configuration (required).
	Config *Config

	// Verifier checks authenticator responses. Defaults to a
	// WebAuthnVerifier built from Config.
	Verifier Verifier

	// Store persists challenges, credentials and accounts (required).
	Store Store

	// Sessions, when set, is told to drop an account's sessions whenever
	// one of its credentials is revoked.
	Sessions SessionRevoker

	// Clock defaults to the wall clock.
	Clock clock.Clock

	// Logger defaults to a no-op logger.
	Logger logger.Logger
}

// NewService creates a passkey service. An invalid Config is reported as
// ErrConfiguration.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}

	verifier := params.Verifier
	if verifier == nil {
		v, err := NewWebAuthnVerifier(params.Config)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	return &Service{
		config:   params.Config,
		verifier: verifier,
		store:    params.Store,
		sessions: params.Sessions,
		clock:    clock.OrReal(params.Clock),
		log:      logger.OrNop(params.Logger).With(logger.String("component", "passkey")),
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// newChallenge persists a challenge carrying the verifier session state.
func (s *Service) newChallenge(ctx context.Context, typ store.CeremonyType, userID, email, ip string, session *webauthn.SessionData) (*store.Challenge, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	now := s.clock.Now()
	c := &store.Challenge{
		ID:          uuid.NewString(),
		Value:       session.Challenge,
		Type:        typ,
		UserID:      userID,
		Email:       email,
		IP:          ip,
		SessionData: data,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.ChallengeTTL),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// loadChallenge returns a challenge that a ceremony of type typ may still
// consume, and its decoded session state. Nothing is burned here.
func (s *Service) loadChallenge(ctx context.Context, id string, typ store.CeremonyType, now time.Time) (*store.Challenge, *webauthn.SessionData, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, ErrChallengeNotFound
		}
		return nil, nil, err
	}
	if err := c.Check(typ, now); err != nil {
		return nil, nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(c.SessionData, &session); err != nil {
		s.burn(ctx, c, now)
		return nil, nil, fmt.Errorf("decode session data: %w", err)
	}
	return c, &session, nil
}

// burn consumes a challenge after a failed finish so it cannot be replayed.
func (s *Service) burn(ctx context.Context, c *store.Challenge, now time.Time) {
	if _, err := s.store.ConsumeChallenge(ctx, c.ID, c.Type, now); err != nil &&
		!errors.Is(err, store.ErrAlreadyUsed) && !errors.Is(err, store.ErrExpired) {
		s.log.WarnContext(ctx, "failed to burn challenge",
			logger.String("challenge_id", c.ID),
			logger.Error(err))
	}
}

// record emits the ceremony metric for one step.
func record(ceremony, phase string, start time.Time, err error) {
	metrics.RecordCeremony(ceremony, phase, outcome(err), time.Since(start).Seconds())
}
