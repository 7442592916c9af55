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

// Package metrics provides Prometheus instrumentation for passwordless
// ceremonies, magic links, sessions, rate limiting and the HTTP surface.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all passwordless metrics
	Namespace = "passwordless"

	// Label names
	LabelCeremony   = "ceremony"
	LabelPhase      = "phase"
	LabelOutcome    = "outcome"
	LabelOperation  = "operation"
	LabelScope      = "scope"
	LabelEvent      = "event"
	LabelRecord     = "record"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Outcome values
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"

	// Ceremony phases
	PhaseBegin  = "begin"
	PhaseFinish = "finish"

	// Magic link operations
	OpRequest = "request"
	OpVerify  = "verify"

	// Rate limit scopes
	ScopeEmail = "email"
	ScopeIP    = "ip"
	ScopeHTTP  = "http"

	// Session events
	EventCreated   = "created"
	EventDestroyed = "destroyed"
	EventExpired   = "expired"
	EventRevoked   = "revoked"

	// Swept record kinds
	KindChallenge = "challenge"
	KindMagicLink = "magic_link"
	KindSession   = "session"
)

var (
	// CeremoniesTotal counts WebAuthn ceremony steps by ceremony, phase and outcome.
	// Outcome is OutcomeSuccess or a short failure kind such as "verification_failed".
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of passkey ceremony steps by ceremony, phase, and outcome",
		},
		[]string{LabelCeremony, LabelPhase, LabelOutcome},
	)

	// CeremonyDuration tracks how long each ceremony step takes server side.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of passkey ceremony steps in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony, LabelPhase},
	)

	// MagicLinksTotal counts magic link requests and verifications by outcome.
	MagicLinksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "magic_links_total",
			Help:      "Total number of magic link operations by operation and outcome",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	// RateLimitedTotal counts rejected requests by limiter scope.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by a rate limiter",
		},
		[]string{LabelScope},
	)

	// SessionsTotal counts session lifecycle events.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Total number of session lifecycle events",
		},
		[]string{LabelEvent},
	)

	// SweptTotal counts expired records removed by the background sweeper.
	SweptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "swept_records_total",
			Help:      "Total number of expired records removed by the sweeper",
		},
		[]string{LabelRecord},
	)

	// ActiveRequests tracks in-flight HTTP requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records one ceremony step with its outcome and duration.
//
// Example:
//
//	start := time.Now()
//	opts, err := svc.BeginRegistration(ctx, identity)
//	metrics.RecordCeremony(metrics.CeremonyRegistration, metrics.PhaseBegin,
//	    outcome(err), time.Since(start).Seconds())
func RecordCeremony(ceremony, phase, outcome string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, phase, outcome).Inc()
	CeremonyDuration.WithLabelValues(ceremony, phase).Observe(duration)
}

// RecordMagicLink records a magic link request or verification.
func RecordMagicLink(operation, outcome string) {
	if !enabled.Load() {
		return
	}
	MagicLinksTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRateLimited records a rejection by the limiter for scope.
func RecordRateLimited(scope string) {
	if !enabled.Load() {
		return
	}
	RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordSessions adds n session events of the given kind.
func RecordSessions(event string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	SessionsTotal.WithLabelValues(event).Add(float64(n))
}

// RecordSwept adds n removed records of the given kind.
func RecordSwept(record string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	SweptTotal.WithLabelValues(record).Add(float64(n))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
//
// Parameters:
//   - method: The HTTP method (GET, POST, etc.)
//   - statusCode: The HTTP status code as a string
//   - duration: The request duration in seconds
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
