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

func challengeKey(id string) string {
	return prefixChallenges + escape(id)
}

// CreateChallenge persists a new challenge.
func (s *Store) CreateChallenge(ctx context.Context, c *store.Challenge) error {
	if c == nil || c.ID == "" || !c.Type.Valid() {
		return store.WrapError("create challenge", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return store.WrapError("create challenge", s.putJSON(ctx, challengeKey(c.ID), c))
}

// GetChallenge returns a challenge without consuming it.
func (s *Store) GetChallenge(ctx context.Context, id string) (*store.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c store.Challenge
	if err := s.getJSON(ctx, challengeKey(id), &c); err != nil {
		return nil, store.WrapError("get challenge", err)
	}
	return &c, nil
}

// ConsumeChallenge marks the challenge used under the write lock.
func (s *Store) ConsumeChallenge(ctx context.Context, id string, typ store.CeremonyType, now time.Time) (*store.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.consumeLocked(ctx, id, typ, now)
	if err != nil {
		return nil, store.WrapError("consume challenge", err)
	}
	if err := s.putJSON(ctx, challengeKey(id), c); err != nil {
		return nil, store.WrapError("consume challenge", err)
	}
	return c, nil
}

// consumeLocked loads and checks a challenge and returns it marked used,
// without writing it. Callers hold s.mu.
func (s *Store) consumeLocked(ctx context.Context, id string, typ store.CeremonyType, now time.Time) (*store.Challenge, error) {
	var c store.Challenge
	if err := s.getJSON(ctx, challengeKey(id), &c); err != nil {
		return nil, err
	}
	if err := c.Check(typ, now); err != nil {
		return nil, err
	}
	used := now
	c.UsedAt = &used
	return &c, nil
}

// DeleteExpiredChallenges removes challenges that expired before now.
func (s *Store) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.listSuffixes(ctx, prefixChallenges)
	if err != nil {
		return 0, store.WrapError("delete expired challenges", err)
	}

	n := 0
	for _, id := range ids {
		key := prefixChallenges + id
		var c store.Challenge
		if err := s.getJSON(ctx, key, &c); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return n, store.WrapError("delete expired challenges", err)
		}
		if !c.Expired(now) {
			continue
		}
		if err := s.deleteIfExists(ctx, key); err != nil {
			return n, store.WrapError("delete expired challenges", err)
		}
		n++
	}
	return n, nil
}
