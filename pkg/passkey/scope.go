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

import "github.com/jeremyhahn/go-passwordless/pkg/store"

// LoginScope is the resolved target of an authentication ceremony. It is
// either Scoped or Discoverable; both produce the same options type.
type LoginScope interface {
	// UserID returns the user the ceremony is bound to, or "".
	UserID() string
	isLoginScope()
}

// Scoped restricts the ceremony to one user's active credentials.
type Scoped struct {
	User        string
	Credentials []*store.Credential
}

// UserID returns the scoped user.
func (s Scoped) UserID() string { return s.User }

func (Scoped) isLoginScope() {}

// Discoverable lets the authenticator choose a resident credential.
type Discoverable struct{}

// UserID returns "".
func (Discoverable) UserID() string { return "" }

func (Discoverable) isLoginScope() {}
