// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package drivers implements the pluggable authentication drivers and the
// registry that routes authentication requests to them. Two drivers are
// built in: password (end users) and client_credentials (applications).
// Custom drivers implement the Driver interface and are registered
// alongside the built-ins; registering two drivers for the same type is a
// startup error.
package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// Built-in driver types. A driver's type doubles as the grant type it
// serves.
const (
	TypePassword          = "password"
	TypeClientCredentials = "client_credentials"
)

// AuthError is an authentication failure with its OAuth-level code and
// HTTP status. The same sentinel is returned for unknown identifiers and
// wrong passwords so the two cases are indistinguishable on the wire.
type AuthError struct {
	Code   string
	Status int
}

func (e *AuthError) Error() string { return e.Code }

// Authentication failure sentinels.
var (
	ErrMissingCredentials = &AuthError{Code: "missing_credentials", Status: 400}
	ErrInvalidCredentials = &AuthError{Code: "invalid_credentials", Status: 401}
	ErrPasswordNotSet     = &AuthError{Code: "password_not_set", Status: 401}
	ErrInvalidClient      = &AuthError{Code: "invalid_client", Status: 401}
	ErrInactiveClient     = &AuthError{Code: "inactive_client", Status: 403}
	ErrAccountLocked      = &AuthError{Code: "account_locked", Status: 423}
)

// PasswordHelper verifies and creates password hashes. Verification is
// intentionally slow and must never run under a hot lock.
type PasswordHelper interface {
	Verify(plain, hash string) bool
	Hash(plain string) (string, error)
}

// Context carries the resources and helpers a driver needs. It is handed
// to every driver's Initialize at startup.
type Context struct {
	Users   storage.Collection
	Clients storage.Collection
	Tenants storage.Collection

	Password PasswordHelper

	// IdentifierField is the user field used for lookup. Defaults to
	// "email".
	IdentifierField string

	// CaseSensitiveIdentifier disables the default lower-casing of
	// identifiers before lookup.
	CaseSensitiveIdentifier bool
}

// Request is a single authentication attempt.
type Request struct {
	GrantType string

	// Password driver inputs.
	Identifier string
	Password   string
	TenantID   string

	// User short-circuits the lookup when the caller already resolved
	// the account.
	User *identity.User

	// Client-credentials driver inputs.
	ClientID     string
	ClientSecret string
}

// Result is a successful authentication outcome. Exactly one of User or
// Client is set, already sanitized.
type Result struct {
	User   *identity.User
	Client *identity.Client
}

// Driver authenticates one category of principal.
type Driver interface {
	// Initialize wires the driver to its resources. Called once at
	// startup before any Authenticate.
	Initialize(ctx context.Context, dc *Context) error

	// Types lists the driver types this driver serves. Used for
	// registration and duplicate detection.
	Types() []string

	// SupportsGrant reports whether the driver handles the grant type.
	SupportsGrant(grantType string) bool

	// Authenticate verifies the request. Failures are *AuthError values.
	Authenticate(ctx context.Context, req *Request) (*Result, error)
}

// TokenIssuer is an optional extension: a driver that issues its own
// token response instead of the server's default minting.
type TokenIssuer interface {
	IssueTokens(ctx context.Context, res *Result, grantedScopes []string) (*oauth.TokenResponse, error)
}

// TokenRevoker is an optional extension: a driver notified when tokens
// it issued are revoked.
type TokenRevoker interface {
	RevokeTokens(ctx context.Context, subject string) error
}

// Registry routes authentication requests to drivers by type.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Driver
}

// Options controls which built-in drivers a new registry carries.
type Options struct {
	DisablePassword          bool
	DisableClientCredentials bool

	// Custom drivers registered after the built-ins.
	Custom []Driver
}

// NewRegistry builds a registry with the built-in drivers (unless
// disabled) plus any custom ones, initializing each against dc.
func NewRegistry(ctx context.Context, dc *Context, opts Options) (*Registry, error) {
	r := &Registry{byType: make(map[string]Driver)}

	var toRegister []Driver
	if !opts.DisablePassword {
		toRegister = append(toRegister, NewPasswordDriver())
	}
	if !opts.DisableClientCredentials {
		toRegister = append(toRegister, NewClientCredentialsDriver())
	}
	toRegister = append(toRegister, opts.Custom...)

	for _, d := range toRegister {
		if err := d.Initialize(ctx, dc); err != nil {
			return nil, fmt.Errorf("initialize driver %v: %w", d.Types(), err)
		}
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a driver. Registering a second driver for an already
// claimed type fails.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range d.Types() {
		if _, exists := r.byType[t]; exists {
			return fmt.Errorf("duplicate registration for driver type %q", t)
		}
	}
	for _, t := range d.Types() {
		r.byType[t] = d
	}
	return nil
}

// ForType returns the driver registered for the type, or nil.
func (r *Registry) ForType(t string) Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[t]
}

// ForGrant returns the first driver that supports the grant type, or nil.
func (r *Registry) ForGrant(grantType string) Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.byType {
		if d.SupportsGrant(grantType) {
			return d
		}
	}
	return nil
}
