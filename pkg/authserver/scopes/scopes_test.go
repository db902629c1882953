// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package scopes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authgate/authgate/pkg/authserver/identity"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "openid profile", []string{"openid", "profile"}},
		{"extra whitespace", "  openid\t profile \n email ", []string{"openid", "profile", "email"}},
		{"duplicates dropped", "openid profile openid", []string{"openid", "profile"}},
		{"empty", "", nil},
		{"only whitespace", "   ", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJoinIdempotent(t *testing.T) {
	t.Parallel()

	parsed := Parse("openid  profile email profile")
	assert.Equal(t, parsed, Parse(Join(parsed)))
}

func TestValidateNamesUnsupportedScope(t *testing.T) {
	t.Parallel()

	supported := []string{"openid", "profile", "email"}
	assert.NoError(t, Validate([]string{"openid", "email"}, supported))

	err := Validate([]string{"openid", "admin:all"}, supported)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "admin:all")
}

func TestSubset(t *testing.T) {
	t.Parallel()

	granted := []string{"openid", "profile", "offline_access"}
	assert.True(t, Subset(nil, granted))
	assert.True(t, Subset([]string{"openid"}, granted))
	assert.True(t, Subset(granted, granted))
	assert.False(t, Subset([]string{"openid", "email"}, granted))
}

func TestUserClaims(t *testing.T) {
	t.Parallel()

	user := &identity.User{
		ID:            "u1",
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice Doe",
		GivenName:     "Alice",
		FamilyName:    "Doe",
		Locale:        "en-GB",
	}

	claims := UserClaims(user, []string{"profile"})
	assert.Equal(t, "Alice Doe", claims["name"])
	assert.Equal(t, "en-GB", claims["locale"])
	assert.NotContains(t, claims, "email")
	assert.NotContains(t, claims, "nickname") // empty fields omitted

	claims = UserClaims(user, []string{"email"})
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.NotContains(t, claims, "name")

	// Unknown scopes contribute nothing.
	assert.Empty(t, UserClaims(user, []string{"read:api", "write:api"}))
	assert.Empty(t, UserClaims(user, nil))
}
