// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"0s", 0},
		{"900s", 900 * time.Second},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseDurationInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "s", "15", "15ms", "1.5h", "-5m", "1w", "h1", "10 m"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, "input %q", in)
		if err != nil {
			assert.Contains(t, err.Error(), "invalid duration")
		}
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"45s", "90s", "2m", "90m", "3h", "36h", "2d"} {
		d, err := ParseDuration(in)
		require.NoError(t, err)
		back, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err)
		assert.Equal(t, d, back, in)
	}
}
