// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// ErrNoActiveKey is returned when no active signing key exists for a purpose.
var ErrNoActiveKey = errors.New("no active signing key")

// ErrKeyNotFound is returned when no key with the requested kid is known.
var ErrKeyNotFound = errors.New("signing key not found")

// Manager owns the signing keys: it is the only component that mutates
// them. Keys are cached in memory and persisted to the record store so
// that restarts and other processes see the same set.
type Manager struct {
	store storage.Collection

	mu      sync.RWMutex
	byKid   map[string]*SigningKey
	current map[string]*SigningKey // purpose -> active key
}

// NewManager creates a Manager over the given signing-key collection.
func NewManager(store storage.Collection) *Manager {
	return &Manager{
		store:   store,
		byKid:   make(map[string]*SigningKey),
		current: make(map[string]*SigningKey),
	}
}

// Initialize loads all stored keys for the default purpose and rotates in
// a fresh key when no active one exists.
func (m *Manager) Initialize(ctx context.Context) error {
	recs, err := m.store.Query(ctx, storage.Record{"purpose": DefaultPurpose})
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}

	m.mu.Lock()
	for _, rec := range recs {
		key := new(SigningKey)
		if err := storage.Decode(rec, key); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("decode signing key: %w", err)
		}
		m.byKid[key.Kid] = key
		if key.Active {
			m.current[key.Purpose] = key
		}
	}
	hasActive := m.current[DefaultPurpose] != nil
	m.mu.Unlock()

	logger.Debugw("signing keys loaded", "count", len(recs), "hasActive", hasActive)

	if !hasActive {
		if _, err := m.Rotate(ctx, DefaultPurpose); err != nil {
			return err
		}
	}
	return nil
}

// Rotate generates a new keypair for the purpose, persists it active and
// demotes all previously active keys. The new key is persisted before any
// existing key is touched, so a failed rotation never demotes the current
// key.
func (m *Manager) Rotate(ctx context.Context, purpose string) (*SigningKey, error) {
	if purpose == "" {
		purpose = DefaultPurpose
	}

	priv, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}

	publicPEM, err := encodePublicPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	privatePEM, err := encodePrivatePEM(priv)
	if err != nil {
		return nil, err
	}

	kid := ComputeKid(publicPEM)
	key := &SigningKey{
		ID:            kid,
		Kid:           kid,
		PublicKeyPEM:  publicPEM,
		PrivateKeyPEM: privatePEM,
		Algorithm:     Algorithm,
		Use:           Use,
		Purpose:       purpose,
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}

	rec, err := storage.Encode(key)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}

	// Demote every other active key for this purpose. The new key is
	// already persisted, so verification across rotation never breaks.
	actives, err := m.store.Query(ctx, storage.Record{"purpose": purpose, "active": true})
	if err != nil {
		return nil, fmt.Errorf("query active keys: %w", err)
	}
	for _, active := range actives {
		id, _ := active[storage.IDField].(string)
		if id == kid {
			continue
		}
		if _, err := m.store.Update(ctx, id, storage.Record{"active": false}); err != nil {
			return nil, fmt.Errorf("demote key %s: %w", id, err)
		}
	}

	m.mu.Lock()
	if prev := m.current[purpose]; prev != nil {
		demoted := *prev
		demoted.Active = false
		m.byKid[prev.Kid] = &demoted
	}
	m.byKid[kid] = key
	m.current[purpose] = key
	m.mu.Unlock()

	logger.Infow("signing key rotated", "purpose", purpose, "kid", kid)
	return key, nil
}

// Current returns the single active key for the purpose.
func (m *Manager) Current(_ context.Context, purpose string) (*SigningKey, error) {
	if purpose == "" {
		purpose = DefaultPurpose
	}

	m.mu.RLock()
	key := m.current[purpose]
	m.mu.RUnlock()

	if key == nil {
		return nil, ErrNoActiveKey
	}
	return key, nil
}

// Key returns the key with the given kid. Cache misses fall back to the
// record store and populate the cache on hit.
func (m *Manager) Key(ctx context.Context, kid string) (*SigningKey, error) {
	m.mu.RLock()
	key := m.byKid[kid]
	m.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	recs, err := m.store.Query(ctx, storage.Record{"kid": kid})
	if err != nil {
		return nil, fmt.Errorf("query key %s: %w", kid, err)
	}
	if len(recs) == 0 {
		return nil, ErrKeyNotFound
	}

	key = new(SigningKey)
	if err := storage.Decode(recs[0], key); err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}

	m.mu.Lock()
	m.byKid[kid] = key
	m.mu.Unlock()

	return key, nil
}

// JWKS assembles the public key set for the JWKS endpoint. Every known
// key is included, active or not, so tokens signed before a rotation keep
// verifying until they age out.
func (m *Manager) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	recs, err := m.store.List(ctx, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}

	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(recs))}
	for _, rec := range recs {
		key := new(SigningKey)
		if err := storage.Decode(rec, key); err != nil {
			return nil, fmt.Errorf("decode signing key: %w", err)
		}
		pub, err := key.Public()
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     key.Kid,
			Algorithm: key.Algorithm,
			Use:       key.Use,
		})
	}
	return set, nil
}
