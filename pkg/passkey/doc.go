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

// Package passkey implements the WebAuthn registration and authentication
// ceremonies on top of the challenge, credential and account stores.
//
// A ceremony is two calls. Begin mints a single-use challenge bound to the
// ceremony type and returns the options for navigator.credentials. Finish
// loads that challenge, verifies the authenticator response through a
// Verifier and commits the outcome together with the challenge consumption.
// Any failure after the challenge has been loaded burns it, so a finish is
// never retried: the client starts a new ceremony.
//
// Basic usage:
//
//	svc, err := passkey.NewService(passkey.ServiceParams{
//	    Config:   &passkey.Config{RPID: "example.com", RPDisplayName: "Example", RPOrigins: []string{"https://example.com"}},
//	    Store:    st,
//	    Sessions: sessions,
//	})
//
//	opts, challengeID, err := svc.BeginAuthentication(ctx, email, ip)
//	// ... client signs ...
//	identity, err := svc.FinishAuthentication(ctx, challengeID, parsed)
//
// All authentication failures should be presented to the end user as one
// generic message; the distinct error kinds exist for logs and metrics.
package passkey
