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
	"sort"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

func credentialKey(id string) string {
	return prefixCredentials + escape(id)
}

func credentialIndexKey(credentialID []byte) string {
	return prefixCredentialIndex + encodeBytes(credentialID)
}

func credentialUserKey(userID, id string) string {
	return prefixCredentialsByUser + escape(userID) + "/" + escape(id)
}

// CreateCredential persists a new credential.
func (s *Store) CreateCredential(ctx context.Context, c *store.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.newBatch(ctx)
	if err := s.createCredentialLocked(ctx, b, c); err != nil {
		b.rollback()
		return store.WrapError("create credential", err)
	}
	return nil
}

func (s *Store) createCredentialLocked(ctx context.Context, b *batch, c *store.Credential) error {
	if err := checkCredential(c); err != nil {
		return err
	}
	if err := s.checkCredentialUnique(ctx, c); err != nil {
		return err
	}
	if err := b.put(credentialKey(c.ID), c); err != nil {
		return err
	}
	if err := b.put(credentialIndexKey(c.CredentialID), []byte(c.ID)); err != nil {
		return err
	}
	return b.put(credentialUserKey(c.UserID, c.ID), []byte(c.ID))
}

func checkCredential(c *store.Credential) error {
	if c == nil || c.ID == "" || c.UserID == "" || len(c.CredentialID) == 0 || len(c.PublicKey) == 0 {
		return store.ErrInvalidArgument
	}
	return nil
}

func (s *Store) checkCredentialUnique(ctx context.Context, c *store.Credential) error {
	for _, key := range []string{credentialIndexKey(c.CredentialID), credentialKey(c.ID)} {
		exists, err := s.backend.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrDuplicateCredential
		}
	}
	return nil
}

// GetCredential returns a credential by record ID.
func (s *Store) GetCredential(ctx context.Context, id string) (*store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.getCredentialLocked(ctx, id)
	if err != nil {
		return nil, store.WrapError("get credential", err)
	}
	return c, nil
}

func (s *Store) getCredentialLocked(ctx context.Context, id string) (*store.Credential, error) {
	var c store.Credential
	if err := s.getJSON(ctx, credentialKey(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCredential returns a credential by authenticator credential ID.
func (s *Store) FindCredential(ctx context.Context, credentialID []byte) (*store.Credential, error) {
	if len(credentialID) == 0 {
		return nil, store.WrapError("find credential", store.ErrNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, err := s.getIndex(ctx, credentialIndexKey(credentialID))
	if err != nil {
		return nil, store.WrapError("find credential", err)
	}
	c, err := s.getCredentialLocked(ctx, id)
	if err != nil {
		return nil, store.WrapError("find credential", err)
	}
	return c, nil
}

// ListActiveCredentials returns a user's unrevoked credentials.
func (s *Store) ListActiveCredentials(ctx context.Context, userID string) ([]*store.Credential, error) {
	all, err := s.ListCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := make([]*store.Credential, 0, len(all))
	for _, c := range all {
		if !c.Revoked {
			active = append(active, c)
		}
	}
	return active, nil
}

// ListCredentials returns all of a user's credentials ordered by creation.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]*store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := prefixCredentialsByUser + escape(userID) + "/"
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, store.WrapError("list credentials", err)
	}

	creds := make([]*store.Credential, 0, len(keys))
	for _, key := range keys {
		id, err := s.getIndex(ctx, key)
		if err != nil {
			return nil, store.WrapError("list credentials", err)
		}
		c, err := s.getCredentialLocked(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, store.WrapError("list credentials", err)
		}
		creds = append(creds, c)
	}

	sort.SliceStable(creds, func(i, j int) bool {
		return creds[i].CreatedAt.Before(creds[j].CreatedAt)
	})
	return creds, nil
}

// UpdateCredentialCounter stores a new counter and last-used time.
func (s *Store) UpdateCredentialCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCredentialLocked(ctx, id)
	if err != nil {
		return store.WrapError("update credential counter", err)
	}
	c.Counter = counter
	c.LastUsedAt = &usedAt
	return store.WrapError("update credential counter", s.putJSON(ctx, credentialKey(id), c))
}

// RevokeCredential marks a credential revoked.
func (s *Store) RevokeCredential(ctx context.Context, id string, rev store.Revocation) (*store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCredentialLocked(ctx, id)
	if err != nil {
		return nil, store.WrapError("revoke credential", err)
	}
	if rev.Owner != "" && rev.Owner != c.UserID {
		return nil, store.WrapError("revoke credential", store.ErrOwnershipMismatch)
	}
	if c.Revoked {
		return nil, store.WrapError("revoke credential", store.ErrAlreadyRevoked)
	}

	at := rev.At
	c.Revoked = true
	c.RevokedAt = &at
	c.RevokedBy = rev.RevokedBy
	c.RevokeReason = rev.Reason

	if err := s.putJSON(ctx, credentialKey(id), c); err != nil {
		return nil, store.WrapError("revoke credential", err)
	}
	return c, nil
}
