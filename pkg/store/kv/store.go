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

// Package kv implements store.Store over a storage.Backend. Records are JSON
// documents; secondary lookups (credential ID, email, user, account sessions)
// are maintained as index keys.
//
// The backend only offers single-key operations, so every mutation runs under
// the store's write lock. That makes each Consume a serialized
// check-and-set, and lets the Complete operations validate every
// precondition before their first write.
package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-passwordless/pkg/storage"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

const (
	prefixChallenges        = "challenges/"
	prefixCredentials       = "credentials/records/"
	prefixCredentialIndex   = "credentials/by-credential-id/"
	prefixCredentialsByUser = "credentials/by-user/"
	prefixAccounts          = "accounts/records/"
	prefixAccountsByEmail   = "accounts/by-email/"
	prefixAccountsByUser    = "accounts/by-user/"
	prefixMagicLinks        = "magiclinks/"
	prefixSessions          = "sessions/records/"
	prefixSessionsByAccount = "sessions/by-account/"
)

// Store is a store.Store backed by a key-value storage.Backend.
type Store struct {
	mu      sync.RWMutex
	backend storage.Backend
}

var _ store.Store = (*Store)(nil)

// New returns a Store over backend.
func New(backend storage.Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	return &Store{backend: backend}, nil
}

// Ping checks the backend when it supports health checks.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func escape(part string) string {
	return url.PathEscape(part)
}

func encodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return store.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.backend.Put(ctx, key, data)
}

func (s *Store) getIndex(ctx context.Context, key string) (string, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

func (s *Store) deleteIfExists(ctx context.Context, key string) error {
	err := s.backend.Delete(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// listSuffixes returns the final path element of every key under prefix.
func (s *Store) listSuffixes(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

// batch applies writes in order and undoes the applied ones if a later write
// fails. Preconditions are checked before a batch starts, so only backend I/O
// failures trigger the undo path.
type batch struct {
	s    *Store
	ctx  context.Context
	undo []func() error
}

func (s *Store) newBatch(ctx context.Context) *batch {
	return &batch{s: s, ctx: ctx}
}

// put writes v at key, restoring the previous value on rollback.
func (b *batch) put(key string, v any) error {
	prev, err := b.s.backend.Get(b.ctx, key)
	existed := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var data []byte
	switch val := v.(type) {
	case []byte:
		data = val
	default:
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("failed to encode %s: %w", key, err)
		}
	}
	if err := b.s.backend.Put(b.ctx, key, data); err != nil {
		return err
	}

	b.undo = append(b.undo, func() error {
		if existed {
			return b.s.backend.Put(context.WithoutCancel(b.ctx), key, prev)
		}
		return b.s.deleteIfExists(context.WithoutCancel(b.ctx), key)
	})
	return nil
}

func (b *batch) rollback() {
	for i := len(b.undo) - 1; i >= 0; i-- {
		_ = b.undo[i]()
	}
}
