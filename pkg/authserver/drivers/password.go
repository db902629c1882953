// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package drivers

import (
	"context"
	"fmt"
	"strings"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// PasswordDriver authenticates end users by identifier and password.
type PasswordDriver struct {
	dc *Context
}

// NewPasswordDriver creates the built-in password driver.
func NewPasswordDriver() *PasswordDriver {
	return &PasswordDriver{}
}

// Initialize implements Driver.
func (d *PasswordDriver) Initialize(_ context.Context, dc *Context) error {
	if dc.Users == nil {
		return fmt.Errorf("password driver requires a users resource")
	}
	if dc.Password == nil {
		return fmt.Errorf("password driver requires a password helper")
	}
	d.dc = dc
	return nil
}

// Types implements Driver.
func (*PasswordDriver) Types() []string { return []string{TypePassword} }

// SupportsGrant implements Driver.
func (*PasswordDriver) SupportsGrant(grantType string) bool {
	return grantType == TypePassword
}

// normalize prepares an identifier for lookup: trim, and lower-case
// unless the deployment opted into case-sensitive identifiers.
func (d *PasswordDriver) normalize(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if !d.dc.CaseSensitiveIdentifier {
		identifier = strings.ToLower(identifier)
	}
	return identifier
}

func (d *PasswordDriver) identifierField() string {
	if d.dc.IdentifierField != "" {
		return d.dc.IdentifierField
	}
	return "email"
}

// Authenticate implements Driver. Unknown identifiers and wrong passwords
// both fail with ErrInvalidCredentials; nothing distinguishes the two.
func (d *PasswordDriver) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	if req.Identifier == "" || req.Password == "" {
		return nil, ErrMissingCredentials
	}

	user := req.User
	if user == nil {
		var err error
		user, err = d.lookup(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		logger.Infow("password auth failed: unknown identifier")
		return nil, ErrInvalidCredentials
	}

	if user.Password == "" {
		return nil, ErrPasswordNotSet
	}
	if !d.dc.Password.Verify(req.Password, user.Password) {
		logger.Infow("password auth failed: verification", "userId", user.ID)
		return nil, ErrInvalidCredentials
	}

	return &Result{User: user.Sanitized()}, nil
}

func (d *PasswordDriver) lookup(ctx context.Context, req *Request) (*identity.User, error) {
	filter := storage.Record{d.identifierField(): d.normalize(req.Identifier)}
	if req.TenantID != "" {
		filter["tenantId"] = req.TenantID
	}

	recs, err := d.dc.Users.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	user := new(identity.User)
	if err := storage.Decode(recs[0], user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

var _ Driver = (*PasswordDriver)(nil)
