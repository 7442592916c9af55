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

// Package sweeper periodically removes expired challenges, magic links and
// sessions, and prunes idle rate limit keys.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/metrics"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 5 * time.Minute

// ChallengeSweeper removes expired challenges. store.ChallengeStore satisfies it.
type ChallengeSweeper interface {
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int, error)
}

// Sweeper is implemented by magiclink.Service and session.Manager.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Pruner drops idle in-memory state and returns how many entries went.
type Pruner interface {
	PruneLimiter() int
}

// Params contains the components to sweep. Nil components are skipped.
type Params struct {
	Challenges ChallengeSweeper
	MagicLinks Sweeper
	Sessions   Sweeper
	Limiters   []Pruner

	Clock  clock.Clock
	Logger logger.Logger
}

// Result counts what one pass removed.
type Result struct {
	Challenges  int
	MagicLinks  int
	Sessions    int
	LimiterKeys int
}

// Total returns the number of store records removed.
func (r Result) Total() int {
	return r.Challenges + r.MagicLinks + r.Sessions
}

// Cleaner runs sweeps on demand or on a ticker.
type Cleaner struct {
	params Params
	clock  clock.Clock
	log    logger.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Cleaner.
func New(params Params) *Cleaner {
	return &Cleaner{
		params: params,
		clock:  clock.OrReal(params.Clock),
		log:    logger.OrNop(params.Logger).With(logger.String("component", "sweeper")),
	}
}

// RunOnce performs a single pass. A failing component does not stop the
// others; their errors are joined.
func (c *Cleaner) RunOnce(ctx context.Context) (Result, error) {
	now := c.clock.Now()
	var (
		res  Result
		errs []error
	)

	if c.params.Challenges != nil {
		n, err := c.params.Challenges.DeleteExpiredChallenges(ctx, now)
		res.Challenges = n
		metrics.RecordSwept(metrics.KindChallenge, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep challenges: %w", err))
		}
	}
	if c.params.MagicLinks != nil {
		n, err := c.params.MagicLinks.Sweep(ctx, now)
		res.MagicLinks = n
		metrics.RecordSwept(metrics.KindMagicLink, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep magic links: %w", err))
		}
	}
	if c.params.Sessions != nil {
		n, err := c.params.Sessions.Sweep(ctx, now)
		res.Sessions = n
		metrics.RecordSwept(metrics.KindSession, n)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep sessions: %w", err))
		}
	}
	for _, p := range c.params.Limiters {
		res.LimiterKeys += p.PruneLimiter()
	}

	err := errors.Join(errs...)
	if err != nil {
		c.log.ErrorContext(ctx, "sweep failed", logger.Error(err))
	}
	if res.Total() > 0 || res.LimiterKeys > 0 {
		c.log.InfoContext(ctx, "sweep complete",
			logger.Int("challenges", res.Challenges),
			logger.Int("magic_links", res.MagicLinks),
			logger.Int("sessions", res.Sessions),
			logger.Int("limiter_keys", res.LimiterKeys))
	}
	return res, err
}

// StartCleanupRoutine sweeps every interval until ctx is done or the
// returned function is called. The returned function waits for the
// routine to exit. Only one routine runs per Cleaner.
func (c *Cleaner) StartCleanupRoutine(ctx context.Context, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		interval = DefaultInterval
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return func() {}
	}
	c.running = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_, _ = c.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
