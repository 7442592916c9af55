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

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

func accountKey(id string) string {
	return prefixAccounts + escape(id)
}

func accountEmailKey(email string) string {
	return prefixAccountsByEmail + encodeBytes([]byte(store.NormalizeEmail(email)))
}

func accountUserKey(userID string) string {
	return prefixAccountsByUser + escape(userID)
}

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.getAccountLocked(ctx, id)
	if err != nil {
		return nil, store.WrapError("get account", err)
	}
	return a, nil
}

func (s *Store) getAccountLocked(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	if err := s.getJSON(ctx, accountKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAccountByEmail returns the account registered under email.
func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	return s.findAccount(ctx, "find account by email", accountEmailKey(email))
}

// FindAccountByUserID returns the account owning userID.
func (s *Store) FindAccountByUserID(ctx context.Context, userID string) (*store.Account, error) {
	return s.findAccount(ctx, "find account by user", accountUserKey(userID))
}

func (s *Store) findAccount(ctx context.Context, op, indexKey string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.getIndex(ctx, indexKey)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	a, err := s.getAccountLocked(ctx, id)
	if err != nil {
		return nil, store.WrapError(op, err)
	}
	return a, nil
}

// PutAccount creates or replaces an account and refreshes its indexes.
func (s *Store) PutAccount(ctx context.Context, a *store.Account) error {
	if a == nil || a.ID == "" || a.UserID == "" || a.Email == "" {
		return store.WrapError("put account", store.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := *a
	rec.Email = store.NormalizeEmail(rec.Email)

	// An index entry owned by a different account is a conflict.
	for _, key := range []string{accountEmailKey(rec.Email), accountUserKey(rec.UserID)} {
		owner, err := s.getIndex(ctx, key)
		if err == nil && owner != rec.ID {
			return store.WrapError("put account", store.ErrConflict)
		}
		if err != nil && !store.IsNotFound(err) {
			return store.WrapError("put account", err)
		}
	}

	prev, err := s.getAccountLocked(ctx, rec.ID)
	if err != nil && !store.IsNotFound(err) {
		return store.WrapError("put account", err)
	}

	b := s.newBatch(ctx)
	err = func() error {
		if err := b.put(accountKey(rec.ID), &rec); err != nil {
			return err
		}
		if err := b.put(accountEmailKey(rec.Email), []byte(rec.ID)); err != nil {
			return err
		}
		return b.put(accountUserKey(rec.UserID), []byte(rec.ID))
	}()
	if err != nil {
		b.rollback()
		return store.WrapError("put account", err)
	}

	if prev != nil {
		if prev.Email != rec.Email {
			_ = s.deleteIfExists(ctx, accountEmailKey(prev.Email))
		}
		if prev.UserID != rec.UserID {
			_ = s.deleteIfExists(ctx, accountUserKey(prev.UserID))
		}
	}
	return nil
}
