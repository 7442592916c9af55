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

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{"background", context.Background(), "abc"},
		{"nil context", nil, "def"},
		{"empty", context.Background(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(tt.ctx, tt.id)
			require.NotNil(t, ctx)
			assert.Equal(t, tt.id, GetCorrelationID(ctx))
		})
	}

	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "req-1")
	assert.Equal(t, "req-1", FromRequest(r))

	r.Header.Set(CorrelationIDHeader, "corr-1")
	assert.Equal(t, "corr-1", FromRequest(r))

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set(CorrelationIDHeader, "has spaces\nand newline")
	_, err := uuid.Parse(FromRequest(bad))
	assert.NoError(t, err)

	long := httptest.NewRequest(http.MethodGet, "/", nil)
	long.Header.Set(CorrelationIDHeader, strings.Repeat("a", 200))
	assert.NotEqual(t, strings.Repeat("a", 200), FromRequest(long))
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/passkey/login/begin", nil)
	r.Header.Set(CorrelationIDHeader, "trace-42")
	h.ServeHTTP(rec, r)

	assert.Equal(t, "trace-42", seen)
	assert.Equal(t, "trace-42", rec.Header().Get(CorrelationIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))
}
