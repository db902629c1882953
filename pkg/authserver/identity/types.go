// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the user and client account types shared by the
// authentication drivers and the endpoint handlers. Records in the store
// are converted to and from these types via the storage package's JSON
// round trip.
package identity

import (
	"net/url"
	"slices"
	"time"
)

// User is an end-user account.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`

	Name       string `json:"name,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	Picture    string `json:"picture,omitempty"`
	Locale     string `json:"locale,omitempty"`

	// Password is the stored hash, never the plaintext.
	Password    string   `json:"password,omitempty"`
	Salt        string   `json:"salt,omitempty"`
	TOTPSecret  string   `json:"totpSecret,omitempty"`
	BackupCodes []string `json:"backupCodes,omitempty"`

	Scopes   []string `json:"scopes,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID string   `json:"tenantId,omitempty"`
	Active   bool     `json:"active"`

	MFAEnabled bool `json:"mfaEnabled,omitempty"`

	// Lockout bookkeeping, managed by the lockout package.
	FailedAttempts int        `json:"failedAttempts,omitempty"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}

// Sanitized returns a copy with every sensitive field stripped. Users
// never leave the authentication boundary unsanitized.
func (u *User) Sanitized() *User {
	clean := *u
	clean.Password = ""
	clean.Salt = ""
	clean.TOTPSecret = ""
	clean.BackupCodes = nil
	clean.FailedAttempts = 0
	clean.LockedUntil = nil
	return &clean
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Client is an OAuth2 client application.
type Client struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Name     string `json:"name,omitempty"`

	// Secret holds a single secret, plaintext or hashed. Secrets holds a
	// rotation list that may mix both forms; when non-empty it takes
	// precedence over Secret.
	Secret  string   `json:"secret,omitempty"`
	Secrets []string `json:"secrets,omitempty"`

	RedirectURIs            []string `json:"redirectUris"`
	AllowedScopes           []string `json:"allowedScopes,omitempty"`
	GrantTypes              []string `json:"grantTypes,omitempty"`
	ResponseTypes           []string `json:"responseTypes,omitempty"`
	TokenEndpointAuthMethod string   `json:"tokenEndpointAuthMethod,omitempty"`
	RequirePKCE             bool     `json:"requirePkce,omitempty"`
	Active                  bool     `json:"active"`
	TenantID                string   `json:"tenantId,omitempty"`
	CreatedAt               time.Time `json:"createdAt,omitempty"`
}

// SecretList returns the effective set of stored secrets.
func (c *Client) SecretList() []string {
	if len(c.Secrets) > 0 {
		return c.Secrets
	}
	if c.Secret != "" {
		return []string{c.Secret}
	}
	return nil
}

// AllowsGrant reports whether the client may use the grant type. A client
// that declares no grant types is not restricted.
func (c *Client) AllowsGrant(grant string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	return slices.Contains(c.GrantTypes, grant)
}

// AllowsRedirectURI reports whether the redirect URI is registered.
func (c *Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// Sanitized returns a copy with all secret material stripped.
func (c *Client) Sanitized() *Client {
	clean := *c
	clean.Secret = ""
	clean.Secrets = nil
	return &clean
}

// ValidateRedirectURIs checks that every URI parses as an absolute URL.
func ValidateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return errEmptyRedirectURIs
	}
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &InvalidRedirectURIError{URI: raw}
		}
	}
	return nil
}

// InvalidRedirectURIError reports a redirect URI that failed validation.
type InvalidRedirectURIError struct {
	URI string
}

func (e *InvalidRedirectURIError) Error() string {
	return "invalid redirect URI: " + e.URI
}

type emptyRedirectURIsError struct{}

func (emptyRedirectURIsError) Error() string { return "redirect URIs must not be empty" }

var errEmptyRedirectURIs = emptyRedirectURIsError{}
