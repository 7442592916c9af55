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

package session

import (
	"net/http"
	"time"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// NewCookieConfig returns the cookie settings for the manager's sessions.
// Secure is set unless development is true.
func (m *Manager) NewCookieConfig(development bool) CookieConfig {
	return CookieConfig{
		Name:   m.config.CookieName,
		Secure: !development,
		MaxAge: m.config.MaxAge,
	}
}

// Cookie returns the cookie carrying secret.
func (c CookieConfig) Cookie(secret string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    secret,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear returns a cookie that deletes the session cookie.
func (c CookieConfig) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SecretFromRequest returns the session secret sent with r, or "".
func (c CookieConfig) SecretFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
