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
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	_, err = NewServer(&Config{})
	assert.EqualError(t, err, "passkey service is required")

	env := newEnv(t)
	assert.Equal(t, ":8080", env.server.Addr())
}

func TestMagicLink_LoginAndSession(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")

	tok := env.requestLink("Alice@Example.com", "")
	msg := env.mail.last(t)
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, store.PurposeLogin, msg.Purpose)
	assert.True(t, strings.HasPrefix(msg.Link, "https://example.com/api/v1/auth/magic-link/verify?token="))

	rec := env.do(http.MethodGet, "/api/v1/auth/magic-link/verify?token="+url.QueryEscape(tok), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var verified MagicLinkVerifyResponse
	env.decode(rec, &verified)
	assert.True(t, verified.Session)
	assert.Equal(t, "login", verified.Purpose)
	assert.Equal(t, "user-1", verified.Identity.UserID)
	assert.Equal(t, "acct-1", verified.Identity.AccountID)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	rec = env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess SessionResponse
	env.decode(rec, &sess)
	assert.Equal(t, "alice@example.com", sess.Identity.Email)
	assert.Equal(t, sess.LastActivityAt.Add(24*time.Hour), sess.ExpiresAt)

	// The link is single use.
	rec = env.do(http.MethodGet, "/api/v1/auth/magic-link/verify?token="+url.QueryEscape(tok), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"link invalid or expired"}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/v1/auth/logout", nil, nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec = env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMagicLink_UnknownEmailLooksTheSame(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")

	known := env.do(http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "alice@example.com"}, nil)
	unknown := env.do(http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "nobody@example.com"}, nil)
	assert.Equal(t, http.StatusAccepted, known.Code)
	assert.Equal(t, known.Code, unknown.Code)

	var a, b map[string]any
	env.decode(known, &a)
	env.decode(unknown, &b)
	assert.ElementsMatch(t, keys(a), keys(b))

	u, err := url.Parse(env.mail.last(t).Link)
	require.NoError(t, err)
	rec := env.do(http.MethodGet, "/api/v1/auth/magic-link/verify?"+u.RawQuery, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var verified MagicLinkVerifyResponse
	env.decode(rec, &verified)
	assert.False(t, verified.Session)
	assert.Equal(t, "nobody@example.com", verified.Identity.Email)
	assert.Empty(t, verified.Identity.AccountID)
	assert.Nil(t, sessionCookie(rec))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestMagicLink_Errors(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name   string
		method string
		target string
		body   any
		status int
		want   string
	}{
		{"invalid email", http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "not-an-email"}, http.StatusBadRequest, msgInvalidRequest},
		{"invalid purpose", http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "a@example.com", Purpose: "reset"}, http.StatusBadRequest, msgInvalidRequest},
		{"malformed body", http.MethodPost, "/api/v1/auth/magic-link", "{", http.StatusBadRequest, msgInvalidRequest},
		{"unknown field", http.MethodPost, "/api/v1/auth/magic-link", `{"email":"a@example.com","admin":true}`, http.StatusBadRequest, msgInvalidRequest},
		{"missing token", http.MethodGet, "/api/v1/auth/magic-link/verify", nil, http.StatusBadRequest, msgLinkInvalid},
		{"unknown token", http.MethodGet, "/api/v1/auth/magic-link/verify?token=bogus", nil, http.StatusBadRequest, msgLinkInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.target, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			env.decode(rec, &resp)
			assert.Equal(t, tt.want, resp.Error)
		})
	}
}

func TestMagicLink_Expired(t *testing.T) {
	env := newEnv(t)
	tok := env.requestLink("alice@example.com", "verify")

	env.clock.Advance(16 * time.Minute)
	rec := env.do(http.MethodGet, "/api/v1/auth/magic-link/verify?token="+url.QueryEscape(tok), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"link invalid or expired"}`, rec.Body.String())
}

func TestMagicLink_DisabledAccount(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	tok := env.requestLink("alice@example.com", "login")

	acct, err := env.store.GetAccount(env.ctx, "acct-1")
	require.NoError(t, err)
	acct.Active = false
	require.NoError(t, env.store.PutAccount(env.ctx, acct))

	rec := env.do(http.MethodGet, "/api/v1/auth/magic-link/verify?token="+url.QueryEscape(tok), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"sign-in failed"}`, rec.Body.String())
	assert.Nil(t, sessionCookie(rec))
}

func TestMagicLink_RateLimited(t *testing.T) {
	env := newEnv(t)
	for i := 0; i < 3; i++ {
		env.requestLink("alice@example.com", "login")
		env.clock.Advance(time.Second)
	}

	rec := env.do(http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "alice@example.com"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "57", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())
}

func TestMagicLink_DeliveryFailure(t *testing.T) {
	env := newEnv(t)
	env.mail.err = errors.New("smtp: connection refused")

	rec := env.do(http.MethodPost, "/api/v1/auth/magic-link", MagicLinkRequest{Email: "alice@example.com"}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "smtp")
}

func TestPasskey_RegisterAndLogin(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	cookie := env.signIn("alice@example.com")
	d := newDevice("user-1")

	rec := env.register(cookie, d, "YubiKey")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created CredentialResponse
	env.decode(rec, &created)
	assert.Equal(t, "user-1", created.UserID)
	assert.Equal(t, "YubiKey", created.DeviceName)
	assert.NotEmpty(t, created.CredentialID)
	assert.NotContains(t, rec.Body.String(), "public_key")

	t.Run("scoped to email", func(t *testing.T) {
		begin := env.beginLogin("alice@example.com")
		rec := env.finishLogin(begin.ChallengeID, env.assertion(begin, d))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var id IdentityResponse
		env.decode(rec, &id)
		assert.Equal(t, "user-1", id.UserID)
		assert.Equal(t, "acct-1", id.AccountID)
		require.NotNil(t, sessionCookie(rec))

		rec = env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, sessionCookie(rec))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("discoverable", func(t *testing.T) {
		begin := env.beginLogin("")
		rec := env.finishLogin(begin.ChallengeID, env.assertion(begin, d))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.NotNil(t, sessionCookie(rec))
	})

	t.Run("listed", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/v1/auth/credentials", nil, nil, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		var list CredentialListResponse
		env.decode(rec, &list)
		require.Len(t, list.Credentials, 1)
		assert.Equal(t, created.ID, list.Credentials[0].ID)
		assert.NotNil(t, list.Credentials[0].LastUsedAt)
	})
}

func TestPasskey_RegisterRequiresSession(t *testing.T) {
	env := newEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/auth/passkey/register/begin", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stale := &http.Cookie{Name: "pl_session", Value: "stale"}
	rec = env.do(http.MethodPost, "/api/v1/auth/passkey/register/begin", map[string]any{}, nil, stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestPasskey_DuplicateRegistration(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	cookie := env.signIn("alice@example.com")
	d := newDevice("user-1")

	require.Equal(t, http.StatusCreated, env.register(cookie, d, "").Code)

	rec := env.register(cookie, d, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPasskey_LoginFailuresAreUniform(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	env.addAccount("acct-2", "user-2", "bob@example.com")
	cookie := env.signIn("alice@example.com")
	d := newDevice("user-1")
	require.Equal(t, http.StatusCreated, env.register(cookie, d, "").Code)
	bob := env.signIn("bob@example.com")
	require.Equal(t, http.StatusCreated, env.register(bob, newDevice("user-2"), "").Code)

	var bodies []string

	// Garbage body.
	begin := env.beginLogin("alice@example.com")
	rec := env.finishLogin(begin.ChallengeID, `{"id":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	bodies = append(bodies, rec.Body.String())

	// The failed attempt burned the challenge.
	retry := env.finishLogin(begin.ChallengeID, env.assertion(begin, d))
	assert.Equal(t, http.StatusBadRequest, retry.Code)
	assert.JSONEq(t, `{"error":"ceremony expired, please retry"}`, retry.Body.String())

	// Unknown credential.
	begin = env.beginLogin("")
	stranger := newDevice("user-9")
	rec = env.finishLogin(begin.ChallengeID, env.assertion(begin, stranger))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	bodies = append(bodies, rec.Body.String())

	// Challenge scoped to another user.
	begin = env.beginLogin("bob@example.com")
	rec = env.finishLogin(begin.ChallengeID, env.assertion(begin, d))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	bodies = append(bodies, rec.Body.String())

	for _, b := range bodies {
		assert.JSONEq(t, `{"error":"sign-in failed"}`, b)
	}

	rec = env.finishLogin("no-such-challenge", env.assertion(begin, d))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"ceremony expired, please retry"}`, rec.Body.String())
}

func TestPasskey_ExpiredCeremony(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	cookie := env.signIn("alice@example.com")
	d := newDevice("user-1")
	require.Equal(t, http.StatusCreated, env.register(cookie, d, "").Code)

	begin := env.beginLogin("alice@example.com")
	env.clock.Advance(6 * time.Minute)
	rec := env.finishLogin(begin.ChallengeID, env.assertion(begin, d))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"ceremony expired, please retry"}`, rec.Body.String())
}

func TestCeremonyRateLimit(t *testing.T) {
	env := newEnv(t, func(cfg *Config) { cfg.CeremonyRequestsPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/v1/auth/passkey/login/begin", LoginBeginRequest{}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/v1/auth/passkey/login/begin", LoginBeginRequest{}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	// Session routes are not throttled with the ceremonies.
	rec = env.do(http.MethodGet, "/api/v1/auth/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentials_RevokeOwn(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	env.addAccount("acct-2", "user-2", "bob@example.com")

	alice := env.signIn("alice@example.com")
	require.Equal(t, http.StatusCreated, env.register(alice, newDevice("user-1"), "").Code)

	bob := env.signIn("bob@example.com")
	rec := env.register(bob, newDevice("user-2"), "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var bobCred CredentialResponse
	env.decode(rec, &bobCred)

	// Another user's credential is indistinguishable from a missing one.
	rec = env.do(http.MethodDelete, "/api/v1/auth/credentials/"+bobCred.ID, nil, nil, alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodDelete, "/api/v1/auth/credentials/missing", nil, nil, alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/v1/auth/credentials/"+bobCred.ID, RevokeRequest{Reason: "lost"}, nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var revoked CredentialResponse
	env.decode(rec, &revoked)
	assert.True(t, revoked.Revoked)
	assert.Equal(t, "user-2", revoked.RevokedBy)
	assert.Equal(t, "lost", revoked.RevokeReason)

	// Revocation ended bob's sessions but not alice's.
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, bob).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, alice).Code)
}

func TestAdmin_Authorization(t *testing.T) {
	env := newEnv(t)
	env.addAccount("acct-1", "user-1", "alice@example.com")
	cookie := env.signIn("alice@example.com")
	rec := env.register(cookie, newDevice("user-1"), "laptop")
	require.Equal(t, http.StatusCreated, rec.Code)
	var cred CredentialResponse
	env.decode(rec, &cred)

	list := "/api/v1/admin/users/user-1/credentials"

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, list, nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, list, nil, bearer("garbage")).Code)

	member, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: "member",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			Issuer:    "passwordless",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, list, nil, bearer(member)).Code)

	// A session cookie is not an admin credential.
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, list, nil, nil, cookie).Code)

	admin := env.adminToken("ops@example.com")
	rec = env.do(http.MethodGet, list, nil, bearer(admin))
	require.Equal(t, http.StatusOK, rec.Code)
	var creds CredentialListResponse
	env.decode(rec, &creds)
	require.Len(t, creds.Credentials, 1)

	rec = env.do(http.MethodPost, "/api/v1/admin/credentials/"+cred.ID+"/revoke", RevokeRequest{Reason: "offboarding"}, bearer(admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var revoked CredentialResponse
	env.decode(rec, &revoked)
	assert.Equal(t, "ops@example.com", revoked.RevokedBy)

	rec = env.do(http.MethodPost, "/api/v1/admin/credentials/"+cred.ID+"/revoke", nil, bearer(admin))
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/v1/auth/session", nil, nil, cookie).Code)
}

func TestAdmin_NotMountedWithoutAuthorizer(t *testing.T) {
	env := newEnv(t, func(cfg *Config) { cfg.Authorizer = nil })
	rec := env.do(http.MethodGet, "/api/v1/admin/users/user-1/credentials", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		rec := env.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := env.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.checker.MarkNotStarted()
	rec = env.do(http.MethodGet, "/health/startup", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCorrelationHeader(t *testing.T) {
	env := newEnv(t)
	rec := env.do(http.MethodGet, "/health/live", nil, map[string]string{"X-Correlation-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}
