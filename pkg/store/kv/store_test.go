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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/storage"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/file"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/memory"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/store/storetest"
)

func TestConformance_Memory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(memory.New())
		require.NoError(t, err)
		return s
	})
}

func TestConformance_File(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		backend, err := file.New(t.TempDir())
		require.NoError(t, err)
		s, err := New(backend)
		require.NoError(t, err)
		return s
	})
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

// failingBackend fails every Put to keys with the given prefix.
type failingBackend struct {
	storage.Backend
	prefix string
}

var errInjected = errors.New("injected write failure")

func (f *failingBackend) Put(ctx context.Context, key string, value []byte) error {
	if len(key) >= len(f.prefix) && key[:len(f.prefix)] == f.prefix {
		return errInjected
	}
	return f.Backend.Put(ctx, key, value)
}

func TestCompleteRegistration_WriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backend := &failingBackend{Backend: memory.New(), prefix: "nothing/"}
	s, err := New(backend)
	require.NoError(t, err)

	require.NoError(t, s.CreateChallenge(ctx, &store.Challenge{
		ID:        "c1",
		Type:      store.CeremonyRegistration,
		UserID:    "u1",
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}))

	// The last write of the batch (the by-user index) fails.
	backend.prefix = prefixCredentialsByUser
	cred := &store.Credential{
		ID:           "k1",
		UserID:       "u1",
		CredentialID: []byte("raw-1"),
		PublicKey:    []byte{1},
		CreatedAt:    now,
	}
	err = s.CompleteRegistration(ctx, "c1", cred, now)
	require.ErrorIs(t, err, errInjected)

	_, err = s.GetCredential(ctx, "k1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindCredential(ctx, []byte("raw-1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	ch, err := s.GetChallenge(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, ch.UsedAt)

	backend.prefix = "nothing/"
	require.NoError(t, s.CompleteRegistration(ctx, "c1", cred, now))
}
