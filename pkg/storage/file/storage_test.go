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

package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/storage"
)

var _ storage.Backend = (*FileStorage)(nil)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Put(ctx, "credentials/abc", []byte(`{"id":"abc"}`)))

	got, err := s.Get(ctx, "credentials/abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc"}`, string(got))

	info, err := os.Stat(filepath.Join(s.rootDir, "credentials", "abc"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(defaultFilePerms), info.Mode().Perm())

	// overwrite
	require.NoError(t, s.Put(ctx, "credentials/abc", []byte(`{"id":"def"}`)))
	got, err = s.Get(ctx, "credentials/abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"def"}`, string(got))
}

func TestGet_NotFound(t *testing.T) {
	_, err := newTestStorage(t).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Put(ctx, "a/b", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a/b"))

	ok, err := s.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(ctx, "a/b"), storage.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, k := range []string{"sessions/2", "sessions/1", "links/1"} {
		require.NoError(t, s.Put(ctx, k, []byte("v")))
	}

	keys, err := s.List(ctx, "sessions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sessions/1", "sessions/2"}, keys)
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for _, key := range []string{"", "../escape", "a/../../b", "/abs", "a\x00b", "x.tmp"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, s.Put(ctx, key, []byte("v")), storage.ErrInvalidKey)
			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestPing(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, os.RemoveAll(s.rootDir))
	assert.Error(t, s.Ping(context.Background()))
}
