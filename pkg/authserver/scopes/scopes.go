// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package scopes implements scope parsing and validation and the mapping
// from granted scopes to OIDC user claims.
package scopes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/oauth"
)

// Parse splits a scope string on ASCII whitespace, dropping empty tokens
// and duplicates while preserving first-seen order.
func Parse(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Join renders a scope list back to its wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Validate checks that every requested scope appears in supported. The
// returned error names the first unsupported scope.
func Validate(requested, supported []string) error {
	for _, s := range requested {
		if !slices.Contains(supported, s) {
			return fmt.Errorf("unsupported scope %q", s)
		}
	}
	return nil
}

// Subset reports whether every element of requested appears in granted.
// Used for refresh-token scope narrowing.
func Subset(requested, granted []string) bool {
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}

// UserClaims derives the OIDC claims a scope set entitles a client to.
// "profile" and "email" contribute their standard claim subsets; unknown
// scopes contribute nothing. The caller sets "sub".
func UserClaims(user *identity.User, granted []string) map[string]any {
	claims := make(map[string]any)
	for _, scope := range granted {
		switch scope {
		case oauth.ScopeProfile:
			putNonEmpty(claims, "name", user.Name)
			putNonEmpty(claims, "given_name", user.GivenName)
			putNonEmpty(claims, "family_name", user.FamilyName)
			putNonEmpty(claims, "nickname", user.Nickname)
			putNonEmpty(claims, "picture", user.Picture)
			putNonEmpty(claims, "locale", user.Locale)
		case oauth.ScopeEmail:
			putNonEmpty(claims, "email", user.Email)
			if user.Email != "" {
				claims["email_verified"] = user.EmailVerified
			}
		}
	}
	return claims
}

func putNonEmpty(claims map[string]any, name, value string) {
	if value != "" {
		claims[name] = value
	}
}
