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

package magiclink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/memory"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/store/kv"
	"github.com/jeremyhahn/go-passwordless/pkg/token"
)

func newTestService(t *testing.T) (*Service, *kv.Store, *clock.Fake) {
	t.Helper()
	st, err := kv.New(memory.New())
	require.NoError(t, err)
	fc := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, err := NewService(ServiceParams{
		Store:  st,
		Config: &Config{BaseURL: "https://example.com/magic-link/verify"},
		Clock:  fc,
	})
	require.NoError(t, err)
	return svc, st, fc
}

func putAccount(t *testing.T, st *kv.Store, id, email string, active bool) {
	t.Helper()
	require.NoError(t, st.PutAccount(context.Background(), &store.Account{
		ID:     id,
		UserID: "user-" + id,
		Email:  email,
		Role:   "member",
		Active: active,
	}))
}

func TestNewService(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)

	st, err := kv.New(memory.New())
	require.NoError(t, err)

	_, err = NewService(ServiceParams{Store: st, Config: &Config{BaseURL: "/relative"}})
	assert.Error(t, err)

	svc, err := NewService(ServiceParams{Store: st})
	require.NoError(t, err)
	cfg := svc.Config()
	assert.Equal(t, DefaultTTL, cfg.TTL)
	assert.Equal(t, DefaultEmailLimit, cfg.EmailLimit)
	assert.Equal(t, DefaultIPLimit, cfg.IPLimit)
	assert.Equal(t, DefaultWindow, cfg.Window)
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"alice@example.com", "alice@example.com", true},
		{"  Alice@Example.COM ", "alice@example.com", true},
		{"", "", false},
		{"   ", "", false},
		{"alice", "", false},
		{"alice@", "", false},
		{"@example.com", "", false},
		{"alice@localhost", "", false},
		{"Alice <alice@example.com>", "", false},
		{"a b@example.com", "", false},
	}
	for _, tt := range tests {
		got, err := ValidateEmail(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, ErrInvalidEmail, tt.in)
		}
	}
}

func TestRequestStoresHashOnly(t *testing.T) {
	svc, st, fc := newTestService(t)
	ctx := context.Background()
	putAccount(t, st, "acct-1", "alice@example.com", true)

	tok, expires, err := svc.Request(ctx, " Alice@Example.com", "10.0.0.1", store.PurposeLogin)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, fc.Now().Add(DefaultTTL), expires)

	link, err := st.ConsumeMagicLink(ctx, token.Hash(tok), fc.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", link.Email)
	assert.Equal(t, "acct-1", link.AccountID)
	assert.Equal(t, store.PurposeLogin, link.Purpose)
	assert.NotEqual(t, tok, link.TokenHash)

	_, err = st.ConsumeMagicLink(ctx, tok, fc.Now())
	assert.True(t, store.IsNotFound(err))
}

func TestRequestUnknownEmailStillIssues(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tok, _, err := svc.Request(ctx, "nobody@example.com", "10.0.0.1", store.PurposeLogin)
	require.NoError(t, err)

	v, err := svc.Verify(ctx, tok)
	require.NoError(t, err)
	assert.False(t, v.Identity.HasAccount())
	assert.Equal(t, "nobody@example.com", v.Identity.Email)
	assert.Equal(t, store.PurposeLogin, v.Purpose)
}

func TestRequestValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Request(ctx, "not-an-email", "", store.PurposeLogin)
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, _, err = svc.Request(ctx, "alice@example.com", "", store.MagicLinkPurpose("reset"))
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	_, _, err = svc.Request(ctx, "alice@example.com", "", "")
	assert.NoError(t, err)
}

func TestVerifySingleUse(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	putAccount(t, st, "acct-1", "alice@example.com", true)

	tok, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeLogin)
	require.NoError(t, err)

	v, err := svc.Verify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", v.Identity.AccountID)
	assert.Equal(t, "user-acct-1", v.Identity.UserID)

	_, err = svc.Verify(ctx, tok)
	assert.ErrorIs(t, err, store.ErrAlreadyUsed)
}

func TestVerifyErrors(t *testing.T) {
	svc, st, fc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidOrExpired)

	_, err = svc.Verify(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidOrExpired)

	tok, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeLogin)
	require.NoError(t, err)
	fc.Advance(DefaultTTL + time.Second)
	_, err = svc.Verify(ctx, tok)
	assert.ErrorIs(t, err, store.ErrExpired)

	putAccount(t, st, "acct-2", "bob@example.com", false)
	tok, _, err = svc.Request(ctx, "bob@example.com", "", store.PurposeLogin)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, tok)
	assert.ErrorIs(t, err, store.ErrAccountDisabled)
}

func TestVerifyAtExpiryBoundary(t *testing.T) {
	svc, _, fc := newTestService(t)
	ctx := context.Background()

	tok, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeVerify)
	require.NoError(t, err)
	fc.Advance(DefaultTTL)
	_, err = svc.Verify(ctx, tok)
	assert.NoError(t, err)
}

func TestVerifyResolvesAccountCreatedLater(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	tok, _, err := svc.Request(ctx, "carol@example.com", "", store.PurposeVerify)
	require.NoError(t, err)
	putAccount(t, st, "acct-3", "carol@example.com", true)

	v, err := svc.Verify(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-3", v.Identity.AccountID)
	assert.Equal(t, store.PurposeVerify, v.Purpose)
}

func TestRateLimitPerEmail(t *testing.T) {
	svc, _, fc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < DefaultEmailLimit; i++ {
		_, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeLogin)
		require.NoError(t, err)
		fc.Advance(10 * time.Second)
	}

	_, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeLogin)
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "email", rl.Scope)
	assert.Equal(t, 30*time.Second, rl.RetryAfter)

	// Another address is unaffected.
	_, _, err = svc.Request(ctx, "bob@example.com", "", store.PurposeLogin)
	assert.NoError(t, err)

	fc.Advance(rl.RetryAfter)
	_, _, err = svc.Request(ctx, "alice@example.com", "", store.PurposeLogin)
	assert.NoError(t, err)
}

func TestRateLimitPerIP(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com", "f@example.com"}
	for _, e := range emails {
		_, _, err := svc.Request(ctx, e, "10.0.0.9", store.PurposeLogin)
		require.NoError(t, err)
	}

	_, _, err := svc.Request(ctx, "g@example.com", "10.0.0.9", store.PurposeLogin)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "ip", rl.Scope)

	// The rejected request charged nothing to its email.
	for i := 0; i < DefaultEmailLimit; i++ {
		_, _, err = svc.Request(ctx, "g@example.com", "10.0.0.10", store.PurposeLogin)
		require.NoError(t, err)
	}
}

func TestRateLimitConcurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Request(ctx, "alice@example.com", "", store.PurposeLogin); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultEmailLimit, allowed)
}

func TestSweepAndPrune(t *testing.T) {
	svc, _, fc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Request(ctx, "alice@example.com", "10.0.0.1", store.PurposeLogin)
	require.NoError(t, err)

	n, err := svc.Sweep(ctx, fc.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	fc.Advance(DefaultTTL + time.Minute)
	n, err = svc.Sweep(ctx, fc.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 2, svc.PruneLimiter())
}

func TestLinkURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, "https://example.com/magic-link/verify?token=abc", svc.LinkURL("abc"))

	svc.config.BaseURL = "https://example.com/verify?src=email"
	assert.Equal(t, "https://example.com/verify?src=email&token=a%2Bb", svc.LinkURL("a+b"))
}
