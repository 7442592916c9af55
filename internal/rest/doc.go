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

// Package rest exposes the passkey ceremonies, magic links, sessions and
// credential administration over HTTP with chi.
//
// Routes:
//
//	POST   /api/v1/auth/passkey/register/begin      session required
//	POST   /api/v1/auth/passkey/register/finish     session required, ?challenge_id=&device_name=
//	POST   /api/v1/auth/passkey/login/begin         body {email?}
//	POST   /api/v1/auth/passkey/login/finish        ?challenge_id=, sets the session cookie
//	POST   /api/v1/auth/magic-link                  body {email, purpose}
//	GET    /api/v1/auth/magic-link/verify           ?token=
//	GET    /api/v1/auth/session
//	POST   /api/v1/auth/logout
//	GET    /api/v1/auth/credentials                 session required
//	DELETE /api/v1/auth/credentials/{id}            session required
//	GET    /api/v1/admin/users/{userID}/credentials admin token required
//	POST   /api/v1/admin/credentials/{id}/revoke    admin token required
//	GET    /health, /health/live, /health/ready, /health/startup
//	GET    /metrics
//
// Every sign-in failure answers 401 with the same body, and every challenge
// failure answers 400 with the same body, so responses never say which check
// failed.
package rest
