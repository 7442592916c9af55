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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/magiclink"
	"github.com/jeremyhahn/go-passwordless/pkg/passkey"
	"github.com/jeremyhahn/go-passwordless/pkg/ratelimit"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// Response messages. Failures of one class share a message.
const (
	msgSignInFailed    = "sign-in failed"
	msgCeremonyExpired = "ceremony expired, please retry"
	msgLinkInvalid     = "link invalid or expired"
	msgRateLimited     = "too many requests"
	msgInvalidRequest  = "invalid request"
	msgUnauthorized    = "unauthorized"
	msgForbidden       = "forbidden"
	msgNotFound        = "not found"
	msgConflict        = "conflict"
	msgInternal        = "internal server error"
	msgDeliveryFailed  = "delivery failed"
	msgDuplicate       = "credential already registered"
	msgAlreadyRevoked  = "credential already revoked"
)

// ErrInvalidRequest marks malformed input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrorResponse is the body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response with message.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: message}, statusCode)
}

// classify maps a service error to a status code and public message.
// Challenge failures are matched before not-found, since an unknown
// challenge is also a not-found error.
func classify(err error) (int, string) {
	var rl *magiclink.RateLimitError
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, magiclink.ErrInvalidEmail),
		errors.Is(err, magiclink.ErrInvalidPurpose),
		errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest, msgInvalidRequest
	case errors.Is(err, magiclink.ErrInvalidOrExpired):
		return http.StatusBadRequest, msgLinkInvalid
	case passkey.IsChallengeFailure(err):
		return http.StatusBadRequest, msgCeremonyExpired
	case passkey.IsAuthenticationFailure(err):
		return http.StatusUnauthorized, msgSignInFailed
	case errors.Is(err, store.ErrDuplicateCredential):
		return http.StatusConflict, msgDuplicate
	case errors.Is(err, store.ErrAlreadyRevoked):
		return http.StatusConflict, msgAlreadyRevoked
	case errors.Is(err, store.ErrOwnershipMismatch), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, msgConflict
	}
	return http.StatusInternalServerError, msgInternal
}

// handleServiceError logs err and writes the mapped response.
func (s *Server) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)

	var rl *magiclink.RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", ratelimit.RetryAfterHeader(rl.RetryAfter))
	}

	fields := []logger.Field{
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", fields...)
	} else {
		s.logger.InfoContext(r.Context(), "request rejected", fields...)
	}
	writeError(w, message, status)
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ErrInvalidRequest
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return ErrInvalidRequest
	}
	return nil
}
