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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
)

var (
	// ErrMissingToken is returned when no bearer token is presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrNotAdmin is returned for a valid token without the admin role.
	ErrNotAdmin = errors.New("token lacks admin role")
)

// Authorizer decides whether a request may use the admin routes and
// returns the acting subject.
type Authorizer interface {
	Authorize(r *http.Request) (subject string, err error)
}

// AdminClaims are the claims carried by an admin token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthorizer accepts HS256 bearer tokens carrying the configured role.
type JWTAuthorizer struct {
	secret   []byte
	issuer   string
	audience string
	role     string
	now      func() time.Time
}

// JWTAuthorizerConfig configures a JWTAuthorizer.
type JWTAuthorizerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Role     string

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewJWTAuthorizer creates an authorizer. Secrets shorter than 32 bytes are rejected.
func NewJWTAuthorizer(cfg JWTAuthorizerConfig) (*JWTAuthorizer, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("admin jwt secret must be at least 32 bytes")
	}
	if cfg.Role == "" {
		cfg.Role = "admin"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &JWTAuthorizer{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		role:     cfg.Role,
		now:      cfg.Now,
	}, nil
}

// Authorize verifies the bearer token on r.
func (a *JWTAuthorizer) Authorize(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	var claims AdminClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid admin token: %w", err)
	}
	if claims.Role != a.role {
		return "", ErrNotAdmin
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("invalid admin token: missing subject")
	}
	return claims.Subject, nil
}

// Issue signs an admin token for subject valid for ttl.
func (a *JWTAuthorizer) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := AdminClaims{
		Role: a.role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

type adminKey struct{}

// AdminFromContext returns the subject set by RequireAdmin.
func AdminFromContext(ctx context.Context) string {
	s, _ := ctx.Value(adminKey{}).(string)
	return s
}

// RequireAdmin rejects requests the authorizer does not accept. A missing
// token answers 401 and a token without the role answers 403.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.authorizer.Authorize(r)
		if err != nil {
			s.logger.WarnContext(r.Context(), "admin authorization failed",
				append(requestFields(r), logger.Error(err))...)
			if errors.Is(err, ErrNotAdmin) {
				writeError(w, msgForbidden, http.StatusForbidden)
				return
			}
			writeError(w, msgUnauthorized, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, subject)))
	})
}
