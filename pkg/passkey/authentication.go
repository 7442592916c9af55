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
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// BeginAuthentication starts a sign-in. When email names an active account
// with passkeys the options list that account's credentials; in every other
// case, an unknown email included, the ceremony is discoverable.
func (s *Service) BeginAuthentication(ctx context.Context, email, ip string) (opts *protocol.CredentialAssertion, challengeID string, err error) {
	const op = "begin authentication"
	defer func(start time.Time) { record(metrics.CeremonyAuthentication, metrics.PhaseBegin, start, err) }(time.Now())

	email = store.NormalizeEmail(email)
	scope, err := s.ResolveScope(ctx, email)
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	opts, session, err := s.verifier.BeginLogin(scope)
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	c, err := s.newChallenge(ctx, store.CeremonyAuthentication, scope.UserID(), email, ip, session)
	if err != nil {
		return nil, "", WrapError(op, err)
	}

	s.log.DebugContext(ctx, "authentication begun", logger.String("challenge_id", c.ID))
	return opts, c.ID, nil
}

// ResolveScope maps an email to the login scope. Only store failures are
// returned as errors.
func (s *Service) ResolveScope(ctx context.Context, email string) (LoginScope, error) {
	email = store.NormalizeEmail(email)
	if email == "" {
		return Discoverable{}, nil
	}

	acct, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if store.IsNotFound(err) {
			return Discoverable{}, nil
		}
		return nil, err
	}
	if !acct.Active {
		return Discoverable{}, nil
	}

	creds, err := s.store.ListActiveCredentials(ctx, acct.UserID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return Discoverable{}, nil
	}
	return Scoped{User: acct.UserID, Credentials: creds}, nil
}

// FinishAuthentication verifies the assertion for challengeID and returns
// the identity of the credential's owner.
//
// Any failure after the challenge is loaded burns it. The counter must
// advance unless the stored and reported counters are both zero.
func (s *Service) FinishAuthentication(ctx context.Context, challengeID string, response *protocol.ParsedCredentialAssertionData) (id store.Identity, err error) {
	const op = "finish authentication"
	defer func(start time.Time) { record(metrics.CeremonyAuthentication, metrics.PhaseFinish, start, err) }(time.Now())

	now := s.clock.Now()
	c, session, err := s.loadChallenge(ctx, challengeID, store.CeremonyAuthentication, now)
	if err != nil {
		return store.Identity{}, WrapError(op, err)
	}

	fail := func(reason string, cause, err error) (store.Identity, error) {
		s.burn(ctx, c, now)
		s.log.InfoContext(ctx, "authentication failed",
			logger.String("challenge_id", c.ID),
			logger.String("reason", reason),
			logger.Any("cause", cause))
		return store.Identity{}, WrapError(op, err)
	}

	if response == nil {
		return fail("missing response", nil, ErrVerificationFailed)
	}

	cred, err := s.store.FindCredential(ctx, response.RawID)
	switch {
	case store.IsNotFound(err):
		return fail("unknown credential", nil, ErrCredentialNotFound)
	case err != nil:
		return fail("credential lookup", err, err)
	case cred.Revoked:
		return fail("credential revoked", nil, store.ErrCredentialRevoked)
	}

	acct, err := s.store.FindAccountByUserID(ctx, cred.UserID)
	switch {
	case store.IsNotFound(err):
		return fail("owner missing", nil, store.ErrAccountDisabled)
	case err != nil:
		return fail("account lookup", err, err)
	case !acct.Active:
		return fail("account disabled", nil, store.ErrAccountDisabled)
	}

	if c.UserID != "" && c.UserID != cred.UserID {
		return fail("challenge scoped to another user", nil, ErrVerificationFailed)
	}

	active, err := s.store.ListActiveCredentials(ctx, cred.UserID)
	if err != nil {
		return fail("credential list", err, err)
	}

	assertion, err := s.verifier.FinishLogin(newUser(cred.UserID, acct, active), *session, response)
	if err != nil {
		return fail("assertion rejected", err, ErrVerificationFailed)
	}
	if !assertion.Flags.UserVerified {
		return fail("user not verified", nil, ErrVerificationFailed)
	}
	if !CounterAdvances(cred.Counter, assertion.Counter) {
		s.log.WarnContext(ctx, "signature counter did not advance, possible cloned authenticator",
			logger.String("credential_id", cred.ID),
			logger.Any("stored", cred.Counter),
			logger.Any("reported", assertion.Counter))
		return fail("stale counter", nil, ErrVerificationFailed)
	}
	if assertion.Counter == 0 {
		s.log.DebugContext(ctx, "accepting counter-less authenticator",
			logger.String("credential_id", cred.ID))
	}

	err = s.store.CompleteAuthentication(ctx, store.AuthenticationCommit{
		ChallengeID:     c.ID,
		CredentialID:    cred.ID,
		PreviousCounter: cred.Counter,
		Counter:         assertion.Counter,
		AccountID:       acct.ID,
		At:              now,
	})
	switch {
	case errors.Is(err, store.ErrConflict):
		return fail("counter raced", err, ErrVerificationFailed)
	case errors.Is(err, store.ErrAlreadyUsed):
		return store.Identity{}, WrapError(op, err)
	case err != nil:
		return fail("commit", err, err)
	}

	s.log.InfoContext(ctx, "passkey authenticated",
		logger.String("credential_id", cred.ID),
		logger.String("account_id", acct.ID))
	return acct.Identity(), nil
}

// CounterAdvances reports whether reported is an acceptable successor of
// stored. Authenticators that always report zero are exempt, which means
// clones of them cannot be detected.
func CounterAdvances(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return true
	}
	return reported > stored
}
