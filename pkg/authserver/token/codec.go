// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package token encodes and decodes the RS256 JWTs issued by the
// authorization server. Signing and verification are built on go-jose;
// the codec adds deterministic claim construction (iat/exp merge), key
// resolution by kid, and the expiry check.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/authgate/authgate/pkg/authserver/keys"
)

// Verification errors. Callers that must not leak the failure reason
// (introspection, revocation) collapse all of these into a generic
// negative result.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownKey   = errors.New("token signed by unknown key")
)

// allowedAlgorithms is the closed set of signature algorithms accepted on
// the wire. go-jose rejects "none" and anything else at parse time.
var allowedAlgorithms = []jose.SignatureAlgorithm{jose.RS256}

// KeyResolver resolves signing keys by kid. *keys.Manager satisfies it.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (*keys.SigningKey, error)
}

// Verified is the outcome of a successful verification: the header's kid
// and the full claim set.
type Verified struct {
	Kid    string
	Claims map[string]any
}

// Create signs the given claims with the key, merging in iat (now) and
// exp (now + expiresIn, a "<int>[smhd]" string). The caller's claims are
// not mutated.
func Create(claims map[string]any, expiresIn string, key *keys.SigningKey) (string, error) {
	lifespan, err := ParseDuration(expiresIn)
	if err != nil {
		return "", err
	}

	priv, err := key.Private()
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key: jose.JSONWebKey{
			Key:       priv,
			KeyID:     key.Kid,
			Algorithm: key.Algorithm,
			Use:       key.Use,
		},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	iat := time.Now().Unix()
	merged := make(map[string]any, len(claims)+2)
	for k, v := range claims {
		merged[k] = v
	}
	merged["iat"] = iat
	merged["exp"] = iat + int64(lifespan.Seconds())

	raw, err := jwt.Signed(signer).Claims(merged).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return raw, nil
}

// Verify parses and verifies a compact JWT. It fails on malformed input,
// any algorithm other than RS256, a kid that the resolver does not know,
// a bad signature, or an expired exp claim. The token is never partially
// accepted.
func Verify(ctx context.Context, raw string, resolver KeyResolver) (*Verified, error) {
	tok, err := jwt.ParseSigned(raw, allowedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(tok.Headers) != 1 {
		return nil, ErrInvalidToken
	}

	kid := tok.Headers[0].KeyID
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidToken)
	}

	key, err := resolver.Key(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %s", ErrUnknownKey, kid)
	}
	pub, err := key.Public()
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := tok.Claims(pub, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if exp, ok := NumberClaim(claims, "exp"); ok && exp < time.Now().Unix() {
		return nil, ErrTokenExpired
	}

	return &Verified{Kid: kid, Claims: claims}, nil
}

// NumberClaim reads a numeric claim, tolerating the int64/float64 split
// that JSON decoding introduces.
func NumberClaim(claims map[string]any, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// StringClaim reads a string claim.
func StringClaim(claims map[string]any, name string) string {
	s, _ := claims[name].(string)
	return s
}
