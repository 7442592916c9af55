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

package magiclink

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

var (
	// ErrInvalidEmail is returned for an empty or malformed address.
	ErrInvalidEmail = errors.New("magiclink: invalid email")

	// ErrInvalidPurpose is returned for a purpose other than login or verify.
	ErrInvalidPurpose = errors.New("magiclink: invalid purpose")

	// ErrInvalidOrExpired is returned for a token that matches no link.
	ErrInvalidOrExpired = errors.New("magiclink: invalid or expired link")

	// ErrRateLimited is matched by every *RateLimitError.
	ErrRateLimited = errors.New("magiclink: rate limited")
)

// RateLimitError reports a rejected request and when to retry.
type RateLimitError struct {
	// Scope is "email" or "ip".
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s limit, retry after %s", ErrRateLimited, e.Scope, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Error wraps a failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("magiclink %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// outcome maps err to a metrics outcome label.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidOrExpired), errors.Is(err, store.ErrExpired), errors.Is(err, store.ErrAlreadyUsed):
		return "invalid"
	case errors.Is(err, store.ErrAccountDisabled):
		return "disabled"
	}
	return metrics.OutcomeError
}
