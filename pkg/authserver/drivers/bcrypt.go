// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package drivers

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptHelper is the default PasswordHelper, backed by bcrypt.
type BcryptHelper struct {
	// Cost is the bcrypt work factor. Zero means bcrypt.DefaultCost.
	Cost int
}

// Verify reports whether plain matches the bcrypt hash.
func (*BcryptHelper) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Hash derives a bcrypt hash from the plaintext.
func (h *BcryptHelper) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

var _ PasswordHelper = (*BcryptHelper)(nil)
