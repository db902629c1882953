// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements the fixed-window request limiter used on
// the sensitive endpoints (login, token, authorize). Each key (client IP)
// gets one bucket per window; when the bucket is full further requests
// are refused with a retry-after hint.
package ratelimit

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/authgate/authgate/pkg/oauth"
)

// pruneThreshold is the bucket count above which Consume opportunistically
// drops expired buckets.
const pruneThreshold = 5000

// Config configures one limiter instance. A non-positive Max or Window
// disables the limiter entirely.
type Config struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of one Consume call.
type Decision struct {
	Allowed bool

	// Remaining is the number of requests left in the current window.
	// math.MaxInt when the limiter is disabled.
	Remaining int

	// RetryAfter is the whole seconds until the window resets, at least
	// 1. Only set on refusal.
	RetryAfter int
}

type bucket struct {
	count     int
	expiresAt time.Time
}

// Limiter is a fixed-window bucket limiter keyed by string (client IP).
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a limiter with the given configuration.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l.cfg.Max > 0 && l.cfg.Window > 0
}

// Consume records one request for key and decides whether to allow it.
func (l *Limiter) Consume(key string) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true, Remaining: math.MaxInt}
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) > pruneThreshold {
		l.prune(now)
	}

	b, ok := l.buckets[key]
	if !ok || !b.expiresAt.After(now) {
		l.buckets[key] = &bucket{count: 1, expiresAt: now.Add(l.cfg.Window)}
		return Decision{Allowed: true, Remaining: l.cfg.Max - 1}
	}

	if b.count < l.cfg.Max {
		b.count++
		return Decision{Allowed: true, Remaining: l.cfg.Max - b.count}
	}

	retry := int(math.Ceil(b.expiresAt.Sub(now).Seconds()))
	if retry < 1 {
		retry = 1
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

// prune drops expired buckets. Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if !b.expiresAt.After(now) {
			delete(l.buckets, key)
		}
	}
}

// Middleware refuses over-limit requests with a 429 envelope before they
// reach the handler. keyFn extracts the bucket key from the request,
// typically the client IP.
func (l *Limiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Consume(keyFn(r))
			if !d.Allowed {
				e := oauth.NewError(http.StatusTooManyRequests,
					oauth.ErrCodeTooManyRequests, "rate limit exceeded")
				e.RetryAfter = d.RetryAfter
				e.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
