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

package passkey

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

func TestAuthentication_RoundTripScoped(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	cred := h.register("u1", d)

	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, " Alice@Example.com ", "192.0.2.9")
	require.NoError(t, err)
	require.Len(t, opts.Response.AllowedCredentials, 1)
	assert.Equal(t, cred.CredentialID, []byte(opts.Response.AllowedCredentials[0].CredentialID))

	c := h.challenge(challengeID)
	assert.Equal(t, store.CeremonyAuthentication, c.Type)
	assert.Equal(t, "u1", c.UserID)
	assert.Equal(t, "alice@example.com", c.Email)

	d.cred.Counter = 1
	identity, err := h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(d, opts))
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "acct-1", identity.AccountID)
	assert.Equal(t, "alice@example.com", identity.Email)

	stored, err := h.store.GetCredential(h.ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.Counter)
	require.NotNil(t, stored.LastUsedAt)

	acct, err := h.store.GetAccount(h.ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.LastLoginAt)
	assert.True(t, acct.LastLoginAt.Equal(h.clock.Now()))
}

func TestAuthentication_RoundTripDiscoverable(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, opts.Response.AllowedCredentials)
	assert.Empty(t, h.challenge(challengeID).UserID)

	identity, err := h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(d, opts))
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
}

// optionShape strips the per-ceremony random challenge.
func optionShape(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	delete(m, "challenge")
	return m
}

func TestAuthentication_AntiEnumeration(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "nopasskeys@example.com")
	disabled := h.addAccount("acct-2", "u2", "disabled@example.com")
	h.register("u2", newDevice("u2"))
	disabled.Active = false
	require.NoError(t, h.store.PutAccount(h.ctx, disabled))

	unknown, _, err := h.svc.BeginAuthentication(h.ctx, "unknown@example.com", "")
	require.NoError(t, err)
	known, _, err := h.svc.BeginAuthentication(h.ctx, "nopasskeys@example.com", "")
	require.NoError(t, err)
	off, _, err := h.svc.BeginAuthentication(h.ctx, "disabled@example.com", "")
	require.NoError(t, err)
	none, _, err := h.svc.BeginAuthentication(h.ctx, "", "")
	require.NoError(t, err)

	want := optionShape(t, unknown.Response)
	assert.Equal(t, want, optionShape(t, known.Response))
	assert.Equal(t, want, optionShape(t, off.Response))
	assert.Equal(t, want, optionShape(t, none.Response))
	assert.NotContains(t, want, "allowCredentials")

	for _, email := range []string{"unknown@example.com", "nopasskeys@example.com", "disabled@example.com", ""} {
		scope, err := h.svc.ResolveScope(h.ctx, email)
		require.NoError(t, err)
		assert.IsType(t, Discoverable{}, scope, email)
	}
}

func TestAuthentication_CounterMonotonicity(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	cred := h.register("u1", d)

	d.cred.Counter = 5
	_, err := h.login("alice@example.com", d)
	require.NoError(t, err)

	for _, counter := range []uint32{5, 4, 0} {
		d.cred.Counter = counter
		_, err = h.login("alice@example.com", d)
		assert.ErrorIs(t, err, ErrVerificationFailed, "counter %d", counter)
	}

	stored, err := h.store.GetCredential(h.ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stored.Counter)

	d.cred.Counter = 6
	_, err = h.login("alice@example.com", d)
	require.NoError(t, err)
	stored, err = h.store.GetCredential(h.ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), stored.Counter)
}

func TestAuthentication_ZeroCounterExempt(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	for i := 0; i < 3; i++ {
		_, err := h.login("alice@example.com", d)
		require.NoError(t, err, "login %d", i+1)
	}
}

func TestCounterAdvances(t *testing.T) {
	tests := []struct {
		stored, reported uint32
		want             bool
	}{
		{0, 0, true},
		{0, 1, true},
		{1, 2, true},
		{1, 1, false},
		{2, 1, false},
		{3, 0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CounterAdvances(tt.stored, tt.reported), "%d -> %d", tt.stored, tt.reported)
	}
}

func TestAuthentication_RevocationFinality(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	cred := h.register("u1", d)

	_, err := h.svc.RevokeCredential(h.ctx, cred.ID, "admin@example.com", "lost device")
	require.NoError(t, err)

	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "", "")
	require.NoError(t, err)
	_, err = h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(d, opts))
	assert.ErrorIs(t, err, store.ErrCredentialRevoked)
	assert.True(t, IsAuthenticationFailure(err))
	assert.NotNil(t, h.challenge(challengeID).UsedAt)

	// Revoked credentials drop out of the scope, so the email is discoverable.
	scope, err := h.svc.ResolveScope(h.ctx, "alice@example.com")
	require.NoError(t, err)
	assert.IsType(t, Discoverable{}, scope)

	_, err = h.svc.RevokeCredential(h.ctx, cred.ID, "admin@example.com", "")
	assert.ErrorIs(t, err, store.ErrAlreadyRevoked)
}

func TestAuthentication_UnknownCredential(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")

	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "", "")
	require.NoError(t, err)
	_, err = h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(newDevice("u1"), opts))
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NotNil(t, h.challenge(challengeID).UsedAt)
}

func TestAuthentication_DisabledAccount(t *testing.T) {
	h := newHarness(t)
	acct := h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	acct.Active = false
	require.NoError(t, h.store.PutAccount(h.ctx, acct))

	_, err := h.login("", d)
	assert.ErrorIs(t, err, store.ErrAccountDisabled)
}

func TestAuthentication_ScopedToAnotherUser(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	h.addAccount("acct-2", "u2", "bob@example.com")
	h.register("u1", newDevice("u1"))
	bob := newDevice("u2")
	h.register("u2", bob)

	_, err := h.login("alice@example.com", bob)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestAuthentication_VerifierRejects(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	t.Run("signature", func(t *testing.T) {
		h.stub.loginErr = errors.New("signature mismatch")
		defer func() { h.stub.loginErr = nil }()

		opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "alice@example.com", "")
		require.NoError(t, err)
		_, err = h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(d, opts))
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.NotContains(t, err.Error(), "signature mismatch")
		assert.NotNil(t, h.challenge(challengeID).UsedAt)
	})

	t.Run("user verification", func(t *testing.T) {
		h.stub.mutateAssertion = func(a *Assertion) { a.Flags.UserVerified = false }
		defer func() { h.stub.mutateAssertion = nil }()

		_, err := h.login("alice@example.com", d)
		assert.ErrorIs(t, err, ErrVerificationFailed)
	})
}

func TestAuthentication_ChallengeFailures(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	t.Run("replay", func(t *testing.T) {
		opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "", "")
		require.NoError(t, err)
		parsed := h.assert(d, opts)
		_, err = h.svc.FinishAuthentication(h.ctx, challengeID, parsed)
		require.NoError(t, err)

		_, err = h.svc.FinishAuthentication(h.ctx, challengeID, parsed)
		assert.ErrorIs(t, err, store.ErrAlreadyUsed)
	})

	t.Run("registration challenge", func(t *testing.T) {
		_, challengeID, err := h.svc.BeginRegistration(h.ctx, "u1", "")
		require.NoError(t, err)
		_, err = h.svc.FinishAuthentication(h.ctx, challengeID, nil)
		assert.ErrorIs(t, err, store.ErrTypeMismatch)
	})

	t.Run("missing response burns", func(t *testing.T) {
		_, challengeID, err := h.svc.BeginAuthentication(h.ctx, "", "")
		require.NoError(t, err)
		_, err = h.svc.FinishAuthentication(h.ctx, challengeID, nil)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.NotNil(t, h.challenge(challengeID).UsedAt)
	})
}

func TestAuthentication_ConcurrentFinish(t *testing.T) {
	h := newHarness(t)
	h.addAccount("acct-1", "u1", "alice@example.com")
	d := newDevice("u1")
	h.register("u1", d)

	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, "alice@example.com", "")
	require.NoError(t, err)
	parsed := h.assert(d, opts)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.FinishAuthentication(h.ctx, challengeID, parsed); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}
