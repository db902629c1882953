// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// TokenID returns the stable identifier a revocation record is keyed by:
// the token's jti when present, else a SHA-256 hash of the raw token.
func TokenID(claims map[string]any, raw string) string {
	if jti := token.StringClaim(claims, "jti"); jti != "" {
		return jti
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RevocationStore records revoked tokens until their natural expiry.
// Verification consults it so a revoked token stays dead even though its
// signature remains valid.
type RevocationStore struct {
	col storage.Collection
}

// NewRevocationStore creates a RevocationStore over the collection.
func NewRevocationStore(col storage.Collection) *RevocationStore {
	return &RevocationStore{col: col}
}

// Revoke records the token ID. expiresAt bounds how long the record is
// kept; a revoked token needs no tombstone past its own exp.
func (s *RevocationStore) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	rec := storage.Record{
		storage.IDField: id,
		"expiresAt":     expiresAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := s.col.Insert(ctx, rec); err != nil {
		return err
	}
	return nil
}

// IsRevoked reports whether the token ID is on the revocation list.
// Expired records are lazily removed. Lookup failures fail open: the
// token's own exp still bounds the damage, and a store outage must not
// kill all verification.
func (s *RevocationStore) IsRevoked(ctx context.Context, id string) bool {
	rec, err := s.col.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("revocation lookup failed", "error", err)
		}
		return false
	}

	if raw, ok := rec["expiresAt"].(string); ok {
		if expiresAt, err := time.Parse(time.RFC3339Nano, raw); err == nil && !expiresAt.After(time.Now()) {
			if err := s.col.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
				logger.Warnw("clear expired revocation failed", "error", err)
			}
			return false
		}
	}
	return true
}
