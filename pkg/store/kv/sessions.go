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

func sessionKey(id string) string {
	return prefixSessions + escape(id)
}

func sessionAccountKey(accountID, id string) string {
	return prefixSessionsByAccount + escape(accountID) + "/" + escape(id)
}

// CreateSession persists a session.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return store.WrapError("create session", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.backend.Exists(ctx, sessionKey(sess.ID))
	if err != nil {
		return store.WrapError("create session", err)
	}
	if exists {
		return store.WrapError("create session", store.ErrConflict)
	}

	b := s.newBatch(ctx)
	if err := b.put(sessionKey(sess.ID), sess); err != nil {
		return store.WrapError("create session", err)
	}
	if err := b.put(sessionAccountKey(sess.AccountID, sess.ID), []byte(sess.ID)); err != nil {
		b.rollback()
		return store.WrapError("create session", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess store.Session
	if err := s.getJSON(ctx, sessionKey(id), &sess); err != nil {
		return nil, store.WrapError("get session", err)
	}
	return &sess, nil
}

// TouchSession moves the session's last activity to at.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess store.Session
	if err := s.getJSON(ctx, sessionKey(id), &sess); err != nil {
		return store.WrapError("touch session", err)
	}
	sess.LastActivityAt = at
	return store.WrapError("touch session", s.putJSON(ctx, sessionKey(id), &sess))
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.WrapError("delete session", s.deleteSessionLocked(ctx, id))
}

func (s *Store) deleteSessionLocked(ctx context.Context, id string) error {
	var sess store.Session
	if err := s.getJSON(ctx, sessionKey(id), &sess); err != nil {
		return err
	}
	if err := s.deleteIfExists(ctx, sessionAccountKey(sess.AccountID, id)); err != nil {
		return err
	}
	return s.deleteIfExists(ctx, sessionKey(id))
}

// DeleteAccountSessions removes every session of an account.
func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := prefixSessionsByAccount + escape(accountID) + "/"
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return 0, store.WrapError("delete account sessions", err)
	}

	n := 0
	for _, key := range keys {
		id, err := s.getIndex(ctx, key)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return n, store.WrapError("delete account sessions", err)
		}
		if err := s.deleteIfExists(ctx, sessionKey(id)); err != nil {
			return n, store.WrapError("delete account sessions", err)
		}
		if err := s.deleteIfExists(ctx, key); err != nil {
			return n, store.WrapError("delete account sessions", err)
		}
		n++
	}
	return n, nil
}

// DeleteStaleSessions removes sessions past either timeout.
func (s *Store) DeleteStaleSessions(ctx context.Context, idleBefore, createdBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.listSuffixes(ctx, prefixSessions)
	if err != nil {
		return 0, store.WrapError("delete stale sessions", err)
	}

	n := 0
	for _, id := range ids {
		var sess store.Session
		if err := s.getJSON(ctx, prefixSessions+id, &sess); err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return n, store.WrapError("delete stale sessions", err)
		}
		if !sess.LastActivityAt.Before(idleBefore) && !sess.CreatedAt.Before(createdBefore) {
			continue
		}
		if err := s.deleteSessionLocked(ctx, sess.ID); err != nil && !store.IsNotFound(err) {
			return n, store.WrapError("delete stale sessions", err)
		}
		n++
	}
	return n, nil
}
