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

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/clock"
)

var (
	// ErrInvalidRule is returned for a rule with an empty name, a
	// non-positive limit or a non-positive window.
	ErrInvalidRule = errors.New("ratelimit: invalid rule")

	// ErrUnknownRule is returned when a hit names a rule that was not registered.
	ErrUnknownRule = errors.New("ratelimit: unknown rule")
)

// Rule allows at most Limit events per key in any rolling Window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Hit is one event to be counted against the named rule for Key.
type Hit struct {
	Rule string
	Key  string
}

// Decision is the result of SlidingLog.Allow.
type Decision struct {
	Allowed bool

	// Rule names the first rule that rejected the hits.
	Rule string

	// RetryAfter is when the rejecting key frees a slot.
	RetryAfter time.Duration
}

// SlidingLog keeps the timestamps of recent events per rule and key.
// An event counts while it is younger than the rule's window.
type SlidingLog struct {
	mu     sync.Mutex
	clock  clock.Clock
	rules  map[string]Rule
	events map[string]map[string][]time.Time
}

// NewSlidingLog registers rules and returns an empty log.
func NewSlidingLog(c clock.Clock, rules ...Rule) (*SlidingLog, error) {
	s := &SlidingLog{
		clock:  clock.OrReal(c),
		rules:  make(map[string]Rule, len(rules)),
		events: make(map[string]map[string][]time.Time, len(rules)),
	}
	for _, r := range rules {
		if r.Name == "" || r.Limit <= 0 || r.Window <= 0 {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidRule, r)
		}
		s.rules[r.Name] = r
		s.events[r.Name] = make(map[string][]time.Time)
	}
	return s, nil
}

// Allow checks every hit against its rule. When all of them have room the
// events are recorded together; otherwise nothing is recorded.
func (s *SlidingLog) Allow(hits ...Hit) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, h := range hits {
		rule, ok := s.rules[h.Rule]
		if !ok {
			return Decision{}, fmt.Errorf("%w: %s", ErrUnknownRule, h.Rule)
		}
		live := s.trimLocked(rule, h.Key, now)
		if len(live) >= rule.Limit {
			return Decision{
				Rule:       rule.Name,
				RetryAfter: live[0].Add(rule.Window).Sub(now),
			}, nil
		}
	}

	for _, h := range hits {
		byKey := s.events[h.Rule]
		byKey[h.Key] = append(byKey[h.Key], now)
	}
	return Decision{Allowed: true}, nil
}

// trimLocked drops events outside the window and returns the rest.
func (s *SlidingLog) trimLocked(rule Rule, key string, now time.Time) []time.Time {
	byKey := s.events[rule.Name]
	log := byKey[key]
	cutoff := now.Add(-rule.Window)

	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == len(log) {
		delete(byKey, key)
		return nil
	}
	if i > 0 {
		log = append(log[:0:0], log[i:]...)
		byKey[key] = log
	}
	return log
}

// Prune forgets keys with no events left in their window and returns how
// many were removed.
func (s *SlidingLog) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for name, byKey := range s.events {
		rule := s.rules[name]
		for key := range byKey {
			if s.trimLocked(rule, key, now) == nil {
				removed++
			}
		}
	}
	return removed
}

// Keys returns how many keys currently hold events for rule.
func (s *SlidingLog) Keys(rule string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[rule])
}
