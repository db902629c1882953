// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/oauth"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	c := DefaultConfig()
	assert.Equal(t, "15m", c.AccessTokenExpiry)
	assert.Equal(t, "30d", c.RefreshTokenExpiry)
	assert.Equal(t, "10m", c.AuthCodeExpiry)
	assert.Contains(t, c.SupportedScopes, oauth.ScopeOpenID)
	assert.Contains(t, c.SupportedGrantTypes, oauth.GrantAuthorizationCode)
	assert.Equal(t, []string{oauth.ResponseTypeCode}, c.SupportedResponseTypes)
	assert.Equal(t, "email", c.IdentifierField)
	assert.Equal(t, StorageMemory, c.Storage.Backend)
	assert.Equal(t, DefaultBcryptCost, c.BcryptCost)
	assert.True(t, c.Lockout.Enabled)
	assert.True(t, c.Failban.Enabled)

	c.Issuer = "https://auth.example.com"
	require.NoError(t, c.Validate())
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		c := DefaultConfig()
		c.Issuer = "https://auth.example.com"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing issuer", func(c *Config) { c.Issuer = "" }, "issuer is required"},
		{"relative issuer", func(c *Config) { c.Issuer = "auth.example.com" }, "absolute URL"},
		{"trailing slash", func(c *Config) { c.Issuer = "https://auth.example.com/" }, "slash"},
		{"bad duration", func(c *Config) { c.AccessTokenExpiry = "15 minutes" }, "invalid duration"},
		{"bad grant type", func(c *Config) { c.SupportedGrantTypes = []string{"device_code"} }, "unsupported grant type"},
		{"missing code response type", func(c *Config) { c.SupportedResponseTypes = []string{"token"} }, "must be supported"},
		{"redis without url", func(c *Config) { c.Storage.Backend = StorageRedis }, "requires a URL"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "dynamo" }, "unknown storage backend"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
