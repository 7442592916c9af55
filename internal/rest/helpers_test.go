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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/internal/mailer"
	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/health"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/session"
	"github.com/jeremyhahn/go-passwordless/pkg/storage/memory"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
	"github.com/jeremyhahn/go-passwordless/pkg/store/kv"
)

const (
	testAdminSecret = "0123456789abcdef0123456789abcdef"
	testRemoteAddr  = "192.0.2.10:51000"
)

type recordingMailer struct {
	mu   sync.Mutex
	msgs []mailer.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *recordingMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.msgs)
	return m.msgs[len(m.msgs)-1]
}

type testEnv struct {
	t       *testing.T
	ctx     context.Context
	server  *Server
	store   *kv.Store
	clock   *clock.Fake
	mail    *recordingMailer
	authz   *JWTAuthorizer
	checker *health.Checker
	rp      virtualwebauthn.RelyingParty
}

type envOption func(cfg *Config)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := kv.New(memory.New())
	require.NoError(t, err)
	fc := clock.NewFake(time.Now().UTC())

	sessions, err := session.NewManager(session.ManagerParams{Store: st, Clock: fc})
	require.NoError(t, err)

	pkCfg := &passkey.Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
	passkeys, err := passkey.NewService(passkey.ServiceParams{
		Config:   pkCfg,
		Store:    st,
		Sessions: sessions,
		Clock:    fc,
	})
	require.NoError(t, err)

	links, err := magiclink.NewService(magiclink.ServiceParams{
		Store:  st,
		Config: &magiclink.Config{BaseURL: "https://example.com/api/v1/auth/magic-link/verify"},
		Clock:  fc,
	})
	require.NoError(t, err)

	authz, err := NewJWTAuthorizer(JWTAuthorizerConfig{Secret: []byte(testAdminSecret), Issuer: "passwordless"})
	require.NoError(t, err)

	checker := health.NewChecker()
	checker.RegisterPinger("store", st)
	checker.MarkStarted()

	env := &testEnv{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		clock:   fc,
		mail:    &recordingMailer{},
		authz:   authz,
		checker: checker,
		rp: virtualwebauthn.RelyingParty{
			Name:   pkCfg.RPDisplayName,
			ID:     pkCfg.RPID,
			Origin: pkCfg.RPOrigins[0],
		},
	}

	cfg := &Config{
		Passkeys:    passkeys,
		MagicLinks:  links,
		Sessions:    sessions,
		Mailer:      env.mail,
		Authorizer:  authz,
		Health:      checker,
		MetricsPath: "/metrics",
	}
	for _, o := range opts {
		o(cfg)
	}
	env.server, err = NewServer(cfg)
	require.NoError(t, err)
	return env
}

func (e *testEnv) addAccount(id, userID, email string) {
	e.t.Helper()
	require.NoError(e.t, e.store.PutAccount(e.ctx, &store.Account{
		ID:          id,
		UserID:      userID,
		Email:       email,
		DisplayName: "User " + userID,
		Role:        "member",
		Active:      true,
		CreatedAt:   e.clock.Now(),
	}))
}

// do sends a request through the router. body may be nil, a string or a
// value encoded as JSON.
func (e *testEnv) do(method, target string, body any, headers map[string]string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = testRemoteAddr
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) decode(rec *httptest.ResponseRecorder, v any) {
	e.t.Helper()
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			return c
		}
	}
	return nil
}

// requestLink asks for a link for email and returns its token.
func (e *testEnv) requestLink(email, purpose string) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: email, Purpose: purpose}, nil)
	require.Equal(e.t, http.StatusAccepted, rec.Code, rec.Body.String())

	u, err := url.Parse(e.mail.last(e.t).Link)
	require.NoError(e.t, err)
	tok := u.Query().Get("token")
	require.NotEmpty(e.t, tok)
	return tok
}

// signIn opens a session for email through a magic link.
func (e *testEnv) signIn(email string) *http.Cookie {
	e.t.Helper()
	tok := e.requestLink(email, "login")
	rec := e.do(http.MethodGet, "/api/v1/auth/magic-link/verify?token="+url.QueryEscape(tok), nil, nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(e.t, c)
	return c
}

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

type beginBody struct {
	Options struct {
		PublicKey json.RawMessage `json:"publicKey"`
	} `json:"options"`
	ChallengeID string `json:"challenge_id"`
}

// register runs a registration ceremony over HTTP and returns the response.
func (e *testEnv) register(cookie *http.Cookie, d *device, deviceName string) *httptest.ResponseRecorder {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/auth/passkey/register/begin", map[string]any{}, nil, cookie)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())

	var begin beginBody
	e.decode(rec, &begin)
	opts, err := virtualwebauthn.ParseAttestationOptions(string(begin.Options.PublicKey))
	require.NoError(e.t, err)
	response := virtualwebauthn.CreateAttestationResponse(e.rp, d.auth, d.cred, *opts)

	target := "/api/v1/auth/passkey/register/finish?challenge_id=" + url.QueryEscape(begin.ChallengeID) +
		"&device_name=" + url.QueryEscape(deviceName)
	return e.do(http.MethodPost, target, response, nil, cookie)
}

// beginLogin starts an authentication ceremony.
func (e *testEnv) beginLogin(email string) beginBody {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/v1/auth/passkey/login/begin", LoginBeginRequest{Email: email}, nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var begin beginBody
	e.decode(rec, &begin)
	return begin
}

// assertion signs the begun ceremony with d.
func (e *testEnv) assertion(begin beginBody, d *device) string {
	e.t.Helper()
	opts, err := virtualwebauthn.ParseAssertionOptions(string(begin.Options.PublicKey))
	require.NoError(e.t, err)
	return virtualwebauthn.CreateAssertionResponse(e.rp, d.auth, d.cred, *opts)
}

func (e *testEnv) finishLogin(challengeID, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/v1/auth/passkey/login/finish?challenge_id="+url.QueryEscape(challengeID), body, nil)
}

func (e *testEnv) adminToken(subject string) string {
	e.t.Helper()
	tok, err := e.authz.Issue(subject, time.Hour)
	require.NoError(e.t, err)
	return tok
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}
