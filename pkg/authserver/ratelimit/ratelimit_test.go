// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeWithinLimit(t *testing.T) {
	t.Parallel()

	l := New(Config{Max: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		d := l.Consume("203.0.113.9")
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := l.Consume("203.0.113.9")
	assert.False(t, d.Allowed)
	assert.GreaterOrEqual(t, d.RetryAfter, 1)
	assert.LessOrEqual(t, d.RetryAfter, 60)
}

func TestConsumeIsolatesKeys(t *testing.T) {
	t.Parallel()

	l := New(Config{Max: 1, Window: time.Minute})
	assert.True(t, l.Consume("a").Allowed)
	assert.False(t, l.Consume("a").Allowed)
	assert.True(t, l.Consume("b").Allowed)
}

func TestWindowReset(t *testing.T) {
	t.Parallel()

	l := New(Config{Max: 1, Window: 50 * time.Millisecond})
	assert.True(t, l.Consume("ip").Allowed)
	assert.False(t, l.Consume("ip").Allowed)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Consume("ip").Allowed)
}

func TestDisabledLimiter(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{{}, {Max: 0, Window: time.Minute}, {Max: 5, Window: 0}, {Max: -1, Window: -1}} {
		l := New(cfg)
		assert.False(t, l.Enabled())
		for i := 0; i < 100; i++ {
			d := l.Consume("ip")
			assert.True(t, d.Allowed)
			assert.Equal(t, math.MaxInt, d.Remaining)
		}
	}
}

func TestRetryAfterClampedToOne(t *testing.T) {
	t.Parallel()

	l := New(Config{Max: 1, Window: 10 * time.Millisecond})
	l.Consume("ip")
	d := l.Consume("ip")
	if !d.Allowed {
		assert.GreaterOrEqual(t, d.RetryAfter, 1)
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	l := New(Config{Max: 1, Window: time.Minute})
	handler := l.Middleware(func(*http.Request) string { return "ip" })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/token", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/token", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too_many_requests", body["error"])
	assert.NotNil(t, body["retryAfter"])
}
