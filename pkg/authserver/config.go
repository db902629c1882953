// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/authgate/authgate/pkg/authserver/failban"
	"github.com/authgate/authgate/pkg/authserver/lockout"
	"github.com/authgate/authgate/pkg/authserver/ratelimit"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// DefaultBcryptCost is the cost applied to password and client-secret
// hashes created by the server.
const DefaultBcryptCost = 12

// StorageConfig selects and configures the record-store backend.
type StorageConfig struct {
	// Backend is "memory" or "redis". Defaults to "memory".
	Backend string

	// RedisURL is the connection URL for the redis backend.
	RedisURL string

	// RedisKeyPrefix overrides the default key prefix.
	RedisKeyPrefix string
}

// Config is the fully resolved configuration of the authorization
// server. All values must be final: no file paths, no env lookups.
// Duration fields use the "<int>[smhd]" wire form.
type Config struct {
	// Issuer is the external base URL of this server and the "iss" claim
	// of every issued token.
	Issuer string

	AccessTokenExpiry  string
	RefreshTokenExpiry string
	IDTokenExpiry      string
	AuthCodeExpiry     string

	SupportedScopes        []string
	SupportedGrantTypes    []string
	SupportedResponseTypes []string

	// IdentifierField is the user field password logins are looked up
	// by. Defaults to "email".
	IdentifierField string

	// CaseSensitiveIdentifier disables identifier lower-casing before
	// lookup.
	CaseSensitiveIdentifier bool

	// RequirePKCE makes code_challenge mandatory for every client.
	RequirePKCE bool

	// RefreshTokenRotation replaces the refresh token on every refresh
	// grant and revokes the consumed one.
	RefreshTokenRotation bool

	// DisablePasswordDriver and DisableClientCredentialsDriver suppress
	// the built-in drivers.
	DisablePasswordDriver          bool
	DisableClientCredentialsDriver bool

	// PersistAuditEvents additionally writes audit events to the record
	// store (collection "audit_events") next to the log sink.
	PersistAuditEvents bool

	// BcryptCost for newly created hashes. Defaults to DefaultBcryptCost.
	BcryptCost int

	// Per-endpoint rate limits. A zero config disables that limiter.
	LoginRateLimit     ratelimit.Config
	TokenRateLimit     ratelimit.Config
	AuthorizeRateLimit ratelimit.Config

	Failban failban.Config
	Lockout lockout.Config

	Storage StorageConfig
}

// DefaultConfig returns a config with every default applied, ready for
// the caller to set Issuer and go.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.AccessTokenExpiry == "" {
		c.AccessTokenExpiry = "15m"
	}
	if c.RefreshTokenExpiry == "" {
		c.RefreshTokenExpiry = "30d"
	}
	if c.IDTokenExpiry == "" {
		c.IDTokenExpiry = "1h"
	}
	if c.AuthCodeExpiry == "" {
		c.AuthCodeExpiry = "10m"
	}
	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = []string{
			oauth.ScopeOpenID, oauth.ScopeProfile, oauth.ScopeEmail, oauth.ScopeOfflineAccess,
		}
	}
	if len(c.SupportedGrantTypes) == 0 {
		c.SupportedGrantTypes = []string{
			oauth.GrantAuthorizationCode, oauth.GrantClientCredentials,
			oauth.GrantRefreshToken, oauth.GrantPassword,
		}
	}
	if len(c.SupportedResponseTypes) == 0 {
		c.SupportedResponseTypes = []string{oauth.ResponseTypeCode}
	}
	if c.IdentifierField == "" {
		c.IdentifierField = "email"
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	if c.LoginRateLimit == (ratelimit.Config{}) {
		c.LoginRateLimit = ratelimit.Config{Max: 10, Window: time.Minute}
	}
	if c.TokenRateLimit == (ratelimit.Config{}) {
		c.TokenRateLimit = ratelimit.Config{Max: 60, Window: time.Minute}
	}
	if c.AuthorizeRateLimit == (ratelimit.Config{}) {
		c.AuthorizeRateLimit = ratelimit.Config{Max: 30, Window: time.Minute}
	}
	if reflect.DeepEqual(c.Failban, failban.Config{}) {
		c.Failban = failban.DefaultConfig()
	}
	if c.Lockout == (lockout.Config{}) {
		c.Lockout = lockout.DefaultConfig()
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageMemory
	}
}

// Validate checks the configuration. It is called by New after defaults
// are applied; a failure prevents startup.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	u, err := url.Parse(c.Issuer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("issuer must be an absolute URL, got %q", c.Issuer)
	}
	if strings.HasSuffix(c.Issuer, "/") {
		return fmt.Errorf("issuer must not end with a slash")
	}

	for name, value := range map[string]string{
		"accessTokenExpiry":  c.AccessTokenExpiry,
		"refreshTokenExpiry": c.RefreshTokenExpiry,
		"idTokenExpiry":      c.IDTokenExpiry,
		"authCodeExpiry":     c.AuthCodeExpiry,
	} {
		if _, err := token.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	for _, gt := range c.SupportedGrantTypes {
		switch gt {
		case oauth.GrantAuthorizationCode, oauth.GrantClientCredentials,
			oauth.GrantRefreshToken, oauth.GrantPassword:
		default:
			return fmt.Errorf("unsupported grant type %q", gt)
		}
	}
	if !slices.Contains(c.SupportedResponseTypes, oauth.ResponseTypeCode) {
		return fmt.Errorf("response type %q must be supported", oauth.ResponseTypeCode)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis storage requires a URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// openStore builds the record store the config selects.
func (c *Config) openStore(ctx context.Context) (storage.Store, error) {
	switch c.Storage.Backend {
	case StorageRedis:
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			URL:       c.Storage.RedisURL,
			KeyPrefix: c.Storage.RedisKeyPrefix,
		})
	default:
		return storage.NewMemoryStore(), nil
	}
}
