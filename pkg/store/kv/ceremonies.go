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

package kv

import (
	"context"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// CompleteRegistration consumes the challenge and creates cred together.
func (s *Store) CompleteRegistration(ctx context.Context, challengeID string, cred *store.Credential, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.consumeLocked(ctx, challengeID, store.CeremonyRegistration, now)
	if err != nil {
		return store.WrapError("complete registration", err)
	}
	b := s.newBatch(ctx)
	if err := s.createCredentialLocked(ctx, b, cred); err != nil {
		b.rollback()
		return store.WrapError("complete registration", err)
	}
	if err := b.put(challengeKey(challengeID), ch); err != nil {
		b.rollback()
		return store.WrapError("complete registration", err)
	}
	return nil
}

// CompleteAuthentication consumes the challenge, advances the credential
// counter and stamps the account's last login together.
func (s *Store) CompleteAuthentication(ctx context.Context, c store.AuthenticationCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.consumeLocked(ctx, c.ChallengeID, store.CeremonyAuthentication, c.At)
	if err != nil {
		return store.WrapError("complete authentication", err)
	}

	cred, err := s.getCredentialLocked(ctx, c.CredentialID)
	if err != nil {
		return store.WrapError("complete authentication", err)
	}
	if cred.Revoked {
		return store.WrapError("complete authentication", store.ErrCredentialRevoked)
	}
	if cred.Counter != c.PreviousCounter {
		return store.WrapError("complete authentication", store.ErrConflict)
	}

	acct, err := s.getAccountLocked(ctx, c.AccountID)
	if err != nil {
		return store.WrapError("complete authentication", err)
	}

	at := c.At
	cred.Counter = c.Counter
	cred.LastUsedAt = &at
	acct.LastLoginAt = &at

	b := s.newBatch(ctx)
	writes := []struct {
		key string
		v   any
	}{
		{credentialKey(cred.ID), cred},
		{accountKey(acct.ID), acct},
		{challengeKey(ch.ID), ch},
	}
	for _, w := range writes {
		if err := b.put(w.key, w.v); err != nil {
			b.rollback()
			return store.WrapError("complete authentication", err)
		}
	}
	return nil
}
