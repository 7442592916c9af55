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
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/memory"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/store/kv"
)

func testConfig() *Config {
	return &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
}

// recordingRevoker captures DestroyAllForAccount calls.
type recordingRevoker struct {
	mu       sync.Mutex
	accounts []string
}

func (r *recordingRevoker) DestroyAllForAccount(ctx context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, accountID)
	return 1, nil
}

// stubVerifier delegates to a real verifier and lets tests tamper with
// the verified result.
type stubVerifier struct {
	Verifier
	loginErr          error
	mutateAssertion   func(*Assertion)
	mutateAttestation func(*Attestation)
}

func (v *stubVerifier) FinishRegistration(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*Attestation, error) {
	att, err := v.Verifier.FinishRegistration(u, session, response)
	if err == nil && v.mutateAttestation != nil {
		v.mutateAttestation(att)
	}
	return att, err
}

func (v *stubVerifier) FinishLogin(u webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*Assertion, error) {
	if v.loginErr != nil {
		return nil, v.loginErr
	}
	a, err := v.Verifier.FinishLogin(u, session, response)
	if err == nil && v.mutateAssertion != nil {
		v.mutateAssertion(a)
	}
	return a, err
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	svc      *Service
	store    *kv.Store
	clock    *clock.Fake
	rp       virtualwebauthn.RelyingParty
	sessions *recordingRevoker
	stub     *stubVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := kv.New(memory.New())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SetDefaults()
	wa, err := NewWebAuthnVerifier(cfg)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    st,
		clock:    clock.NewFake(time.Now()),
		sessions: &recordingRevoker{},
		stub:     &stubVerifier{Verifier: wa},
		rp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
	}

	h.svc, err = NewService(ServiceParams{
		Config:   cfg,
		Verifier: h.stub,
		Store:    st,
		Sessions: h.sessions,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) addAccount(accountID, userID, email string) *store.Account {
	h.t.Helper()
	a := &store.Account{
		ID:          accountID,
		UserID:      userID,
		Email:       email,
		DisplayName: "User " + userID,
		Role:        "member",
		Active:      true,
		CreatedAt:   h.clock.Now(),
	}
	require.NoError(h.t, h.store.PutAccount(h.ctx, a))
	return a
}

// device is a virtual authenticator holding one credential.
type device struct {
	auth virtualwebauthn.Authenticator
	cred virtualwebauthn.Credential
}

func newDevice(userID string) *device {
	d := &device{
		auth: virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
			UserHandle: []byte(userID),
		}),
		cred: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
	d.auth.AddCredential(d.cred)
	return d
}

func (h *harness) attest(d *device, opts *protocol.CredentialCreation) *protocol.ParsedCredentialCreationData {
	h.t.Helper()
	raw, err := json.Marshal(opts.Response)
	require.NoError(h.t, err)
	parsedOpts, err := virtualwebauthn.ParseAttestationOptions(string(raw))
	require.NoError(h.t, err)

	response := virtualwebauthn.CreateAttestationResponse(h.rp, d.auth, d.cred, *parsedOpts)
	var ccr protocol.CredentialCreationResponse
	require.NoError(h.t, json.Unmarshal([]byte(response), &ccr))
	parsed, err := ccr.Parse()
	require.NoError(h.t, err)
	return parsed
}

func (h *harness) assert(d *device, opts *protocol.CredentialAssertion) *protocol.ParsedCredentialAssertionData {
	h.t.Helper()
	raw, err := json.Marshal(opts.Response)
	require.NoError(h.t, err)
	parsedOpts, err := virtualwebauthn.ParseAssertionOptions(string(raw))
	require.NoError(h.t, err)

	response := virtualwebauthn.CreateAssertionResponse(h.rp, d.auth, d.cred, *parsedOpts)
	var car protocol.CredentialAssertionResponse
	require.NoError(h.t, json.Unmarshal([]byte(response), &car))
	parsed, err := car.Parse()
	require.NoError(h.t, err)
	return parsed
}

// register runs a full registration ceremony for userID with d.
func (h *harness) register(userID string, d *device) *store.Credential {
	h.t.Helper()
	opts, challengeID, err := h.svc.BeginRegistration(h.ctx, userID, "192.0.2.1")
	require.NoError(h.t, err)
	cred, err := h.svc.FinishRegistration(h.ctx, userID, challengeID, h.attest(d, opts), "laptop")
	require.NoError(h.t, err)
	return cred
}

// login runs a full authentication ceremony begun with email.
func (h *harness) login(email string, d *device) (store.Identity, error) {
	h.t.Helper()
	opts, challengeID, err := h.svc.BeginAuthentication(h.ctx, email, "192.0.2.1")
	require.NoError(h.t, err)
	return h.svc.FinishAuthentication(h.ctx, challengeID, h.assert(d, opts))
}

func (h *harness) challenge(id string) *store.Challenge {
	h.t.Helper()
	c, err := h.store.GetChallenge(h.ctx, id)
	require.NoError(h.t, err)
	return c
}
