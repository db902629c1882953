// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys provides signing key management for the OAuth authorization
// server: generation, persistence, rotation, lookup by key ID and JWKS
// assembly. Keys are 2048-bit RSA pairs signed with RS256.
package keys

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"
)

const (
	// DefaultPurpose is the purpose assigned to keys used for OAuth token
	// signing.
	DefaultPurpose = "oauth"

	// Algorithm is the only signing algorithm this server issues.
	Algorithm = "RS256"

	// Use is the JWK "use" parameter for all keys.
	Use = "sig"

	// KeySize is the RSA modulus size in bits, per NIST SP 800-57.
	KeySize = 2048

	// kidLength is the number of hex characters of the SPKI fingerprint
	// used as the key ID.
	kidLength = 16
)

// SigningKey is one RSA keypair. The private half is persisted as
// PKCS#8 PEM and never mutated after creation; rotation creates a new
// record and demotes the old one to inactive so outstanding tokens keep
// verifying until they expire.
type SigningKey struct {
	// ID mirrors Kid so the record store can address the key directly.
	ID            string    `json:"id"`
	Kid           string    `json:"kid"`
	PublicKeyPEM  string    `json:"publicKey"`
	PrivateKeyPEM string    `json:"privateKey"`
	Algorithm     string    `json:"algorithm"`
	Use           string    `json:"use"`
	Purpose       string    `json:"purpose"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Private parses and returns the RSA private key.
func (k *SigningKey) Private() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(k.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("key %s: no PEM block in private key", k.Kid)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("key %s: parse private key: %w", k.Kid, err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %s: private key is %T, want *rsa.PrivateKey", k.Kid, parsed)
	}
	return rsaKey, nil
}

// Public parses and returns the RSA public key.
func (k *SigningKey) Public() (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(k.PublicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("key %s: no PEM block in public key", k.Kid)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("key %s: parse public key: %w", k.Kid, err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %s: public key is %T, want *rsa.PublicKey", k.Kid, parsed)
	}
	return rsaKey, nil
}

// encodePublicPEM encodes an RSA public key as a PEM-wrapped SPKI block.
func encodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// encodePrivatePEM encodes an RSA private key as a PEM-wrapped PKCS#8 block.
func encodePrivatePEM(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ComputeKid derives the key ID from the PEM-encoded SPKI public key:
// the first 16 hex characters of its SHA-256 digest.
func ComputeKid(publicKeyPEM string) string {
	sum := sha256.Sum256([]byte(publicKeyPEM))
	return hex.EncodeToString(sum[:])[:kidLength]
}
