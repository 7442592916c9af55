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

func magicLinkKey(tokenHash string) string {
	return prefixMagicLinks + escape(tokenHash)
}

// CreateMagicLink persists a link keyed by its token hash.
func (s *Store) CreateMagicLink(ctx context.Context, m *store.MagicLink) error {
	if m == nil || m.ID == "" || m.TokenHash == "" || m.Email == "" {
		return store.WrapError("create magic link", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.backend.Exists(ctx, magicLinkKey(m.TokenHash))
	if err != nil {
		return store.WrapError("create magic link", err)
	}
	if exists {
		return store.WrapError("create magic link", store.ErrConflict)
	}
	return store.WrapError("create magic link", s.putJSON(ctx, magicLinkKey(m.TokenHash), m))
}

// ConsumeMagicLink marks the link used under the write lock.
func (s *Store) ConsumeMagicLink(ctx context.Context, tokenHash string, now time.Time) (*store.MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m store.MagicLink
	if err := s.getJSON(ctx, magicLinkKey(tokenHash), &m); err != nil {
		return nil, store.WrapError("consume magic link", err)
	}
	if err := m.Check(now); err != nil {
		return nil, store.WrapError("consume magic link", err)
	}

	used := now
	m.UsedAt = &used
	if err := s.putJSON(ctx, magicLinkKey(tokenHash), &m); err != nil {
		return nil, store.WrapError("consume magic link", err)
	}
	return &m, nil
}

// DeleteExpiredMagicLinks removes links that expired before now.
func (s *Store) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes, err := s.listSuffixes(ctx, prefixMagicLinks)
	if err != nil {
		return 0, store.WrapError("delete expired magic links", err)
	}

	n := 0
	for _, h := range hashes {
		key := prefixMagicLinks + h
		var m store.MagicLink
		if err := s.getJSON(ctx, key, &m); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return n, store.WrapError("delete expired magic links", err)
		}
		if !now.After(m.ExpiresAt) {
			continue
		}
		if err := s.deleteIfExists(ctx, key); err != nil {
			return n, store.WrapError("delete expired magic links", err)
		}
		n++
	}
	return n, nil
}
