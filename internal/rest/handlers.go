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
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-passwordless/internal/mailer"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

func (s *Server) registerBegin(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	opts, challengeID, err := s.passkeys.BeginRegistration(r.Context(), sess.UserID, ratelimit.ClientIP(r))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, RegistrationBeginResponse{Options: opts, ChallengeID: challengeID}, http.StatusOK)
}

func (s *Server) registerFinish(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	q := r.URL.Query()

	// An unparsable body still reaches the service so the challenge is burned.
	parsed, perr := protocol.ParseCredentialCreationResponseBody(r.Body)
	if perr != nil {
		s.logger.DebugContext(r.Context(), "attestation parse failed", logger.Error(perr))
	}

	cred, err := s.passkeys.FinishRegistration(r.Context(), sess.UserID, q.Get("challenge_id"), parsed, q.Get("device_name"))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, credentialResponse(cred), http.StatusCreated)
}

func (s *Server) loginBegin(w http.ResponseWriter, r *http.Request) {
	var req LoginBeginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	opts, challengeID, err := s.passkeys.BeginAuthentication(r.Context(), req.Email, ratelimit.ClientIP(r))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, LoginBeginResponse{Options: opts, ChallengeID: challengeID}, http.StatusOK)
}

func (s *Server) loginFinish(w http.ResponseWriter, r *http.Request) {
	parsed, perr := protocol.ParseCredentialRequestResponseBody(r.Body)
	if perr != nil {
		s.logger.DebugContext(r.Context(), "assertion parse failed", logger.Error(perr))
	}

	id, err := s.passkeys.FinishAuthentication(r.Context(), r.URL.Query().Get("challenge_id"), parsed)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	s.startSession(w, r, id)
}

// startSession opens a session for id, sets the cookie and writes the identity.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, id store.Identity) {
	secret, err := s.sessions.Create(r.Context(), id, ratelimit.ClientIP(r), r.UserAgent())
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	http.SetCookie(w, s.cookies.Cookie(secret))
	writeJSON(w, identityResponse(id), http.StatusOK)
}

func (s *Server) magicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req MagicLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	purpose := store.MagicLinkPurpose(strings.ToLower(strings.TrimSpace(req.Purpose)))

	tok, expiresAt, err := s.links.Request(r.Context(), req.Email, ratelimit.ClientIP(r), purpose)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	if purpose == "" {
		purpose = store.PurposeLogin
	}

	to, _ := magiclink.ValidateEmail(req.Email)
	err = s.mailer.Send(r.Context(), mailer.Message{
		To:        to,
		Link:      s.links.LinkURL(tok),
		Purpose:   purpose,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "magic link delivery failed", logger.Error(err))
		writeError(w, msgDeliveryFailed, http.StatusBadGateway)
		return
	}
	writeJSON(w, MagicLinkResponse{ExpiresAt: expiresAt}, http.StatusAccepted)
}

func (s *Server) magicLinkVerify(w http.ResponseWriter, r *http.Request) {
	v, err := s.links.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, store.ErrAlreadyUsed) || errors.Is(err, store.ErrExpired) {
			err = errors.Join(magiclink.ErrInvalidOrExpired, err)
		}
		s.handleServiceError(w, r, err)
		return
	}

	resp := MagicLinkVerifyResponse{
		Identity: identityResponse(v.Identity),
		Purpose:  string(v.Purpose),
	}
	if v.Purpose == store.PurposeLogin && v.Identity.HasAccount() {
		secret, err := s.sessions.Create(r.Context(), v.Identity, ratelimit.ClientIP(r), r.UserAgent())
		if err != nil {
			s.handleServiceError(w, r, err)
			return
		}
		http.SetCookie(w, s.cookies.Cookie(secret))
		resp.Session = true
	}
	writeJSON(w, resp, http.StatusOK)
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Validate(r.Context(), s.cookies.SecretFromRequest(r))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, msgUnauthorized, http.StatusUnauthorized)
		return
	}

	cfg := s.sessions.Config()
	expires := sess.CreatedAt.Add(cfg.MaxAge)
	if idle := sess.LastActivityAt.Add(cfg.IdleTimeout); idle.Before(expires) {
		expires = idle
	}
	writeJSON(w, SessionResponse{
		Identity:       identityResponse(sess.Identity()),
		CreatedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		ExpiresAt:      expires,
	}, http.StatusOK)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context(), s.cookies.SecretFromRequest(r)); err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	http.SetCookie(w, s.cookies.Clear())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listOwnCredentials(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	creds, err := s.passkeys.ListCredentials(r.Context(), sess.UserID)
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, credentialList(creds), http.StatusOK)
}

func (s *Server) revokeOwnCredential(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	var req RevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	cred, err := s.passkeys.RevokeOwnCredential(r.Context(), sess.UserID, chi.URLParam(r, "id"), req.Reason)
	if err != nil && cred == nil {
		s.handleServiceError(w, r, err)
		return
	}
	if err != nil {
		// Revoked, but the sessions could not all be destroyed.
		s.logger.ErrorContext(r.Context(), "credential revoked with session cleanup failure", logger.Error(err))
	}
	// Revocation ends every session of the account, this one included.
	http.SetCookie(w, s.cookies.Clear())
	writeJSON(w, credentialResponse(cred), http.StatusOK)
}

func (s *Server) adminListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.passkeys.ListCredentials(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, credentialList(creds), http.StatusOK)
}

func (s *Server) adminRevokeCredential(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.handleServiceError(w, r, err)
		return
	}

	admin := AdminFromContext(r.Context())
	cred, err := s.passkeys.RevokeCredential(r.Context(), chi.URLParam(r, "id"), admin, req.Reason)
	if err != nil && cred == nil {
		s.handleServiceError(w, r, err)
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "credential revoked with session cleanup failure", logger.Error(err))
	}
	s.logger.InfoContext(r.Context(), "credential revoked by admin",
		logger.String("credential", cred.ID),
		logger.String("admin", admin))
	writeJSON(w, credentialResponse(cred), http.StatusOK)
}
