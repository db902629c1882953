// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/authgate/authgate/pkg/storage"
)

// PKCE code challenge methods (RFC 7636).
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// codeBytes is the entropy of a generated authorization code: 32 bytes,
// twice the 128-bit floor RFC 6749 recommends.
const codeBytes = 32

// AuthorizationCode is the one-shot ticket minted by the authorize
// endpoint and burned at the token endpoint.
type AuthorizationCode struct {
	Code        string    `json:"id"`
	ClientID    string    `json:"clientId"`
	UserID      string    `json:"userId"`
	RedirectURI string    `json:"redirectUri"`
	Scope       string    `json:"scope,omitempty"`
	Nonce       string    `json:"nonce,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Used        bool      `json:"used"`

	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`
}

// Expired reports whether the code has aged out.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// VerifyPKCE checks the presented verifier against the stored challenge.
// Codes without a challenge accept any (including empty) verifier.
func (c *AuthorizationCode) VerifyPKCE(verifier string) bool {
	if c.CodeChallenge == "" {
		return true
	}
	if verifier == "" {
		return false
	}
	switch c.CodeChallengeMethod {
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(c.CodeChallenge)) == 1
	case PKCEMethodS256, "":
		derived := oauth2.S256ChallengeFromVerifier(verifier)
		return subtle.ConstantTimeCompare([]byte(derived), []byte(c.CodeChallenge)) == 1
	default:
		return false
	}
}

// CodeStore persists authorization codes in the record store, keyed by
// the code value itself.
type CodeStore struct {
	col storage.Collection
}

// NewCodeStore creates a CodeStore over the given collection.
func NewCodeStore(col storage.Collection) *CodeStore {
	return &CodeStore{col: col}
}

// Issue generates a fresh unguessable code and persists its record.
func (s *CodeStore) Issue(ctx context.Context, code *AuthorizationCode) (string, error) {
	value, err := randomToken(codeBytes)
	if err != nil {
		return "", err
	}
	code.Code = value

	rec, err := storage.Encode(code)
	if err != nil {
		return "", err
	}
	if _, err := s.col.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("persist authorization code: %w", err)
	}
	return value, nil
}

// Get fetches a code record. A nil code with nil error means unknown.
func (s *CodeStore) Get(ctx context.Context, value string) (*AuthorizationCode, error) {
	rec, err := s.col.Get(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	code := new(AuthorizationCode)
	if err := storage.Decode(rec, code); err != nil {
		return nil, fmt.Errorf("decode authorization code: %w", err)
	}
	return code, nil
}

// Burn deletes the code record. Burning an already-deleted code is not
// an error.
func (s *CodeStore) Burn(ctx context.Context, value string) error {
	if err := s.col.Delete(ctx, value); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Sweep deletes every expired code. Intended for a periodic janitor.
func (s *CodeStore) Sweep(ctx context.Context) (int, error) {
	recs, err := s.col.List(ctx, storage.ListOptions{})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0
	for _, rec := range recs {
		code := new(AuthorizationCode)
		if err := storage.Decode(rec, code); err != nil {
			continue
		}
		if code.Expired(now) {
			if err := s.Burn(ctx, code.Code); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
