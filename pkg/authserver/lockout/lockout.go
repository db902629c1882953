// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockout implements per-account failed-login tracking. Unlike
// the IP-keyed failban table, lockout state lives on the user record
// itself (failedAttempts, lockedUntil) so it follows the account across
// processes and survives restarts.
package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Config configures the lockout manager.
type Config struct {
	// Enabled controls whether failures are tracked at all.
	Enabled bool

	// MaxAttempts is the consecutive-failure count that locks the account.
	MaxAttempts int

	// Duration is how long a locked account stays locked.
	Duration time.Duration

	// ResetOnSuccess clears the failure counter after a successful login.
	ResetOnSuccess bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxAttempts:    5,
		Duration:       30 * time.Minute,
		ResetOnSuccess: true,
	}
}

// Manager reads and writes lockout state on user records.
type Manager struct {
	cfg   Config
	users storage.Collection

	// onLock fires when an account crosses the threshold.
	onLock func(user *identity.User)
}

// Option configures a Manager.
type Option func(*Manager)

// WithOnLock sets a callback fired when an account gets locked.
func WithOnLock(fn func(*identity.User)) Option {
	return func(m *Manager) { m.onLock = fn }
}

// New creates a lockout manager over the users collection.
func New(cfg Config, users storage.Collection, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, users: users}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check returns how long the account stays locked, or zero when it is
// usable. An expired lock is cleared in place.
func (m *Manager) Check(ctx context.Context, user *identity.User) time.Duration {
	if !m.cfg.Enabled || user == nil || user.LockedUntil == nil {
		return 0
	}

	now := time.Now()
	if user.LockedUntil.After(now) {
		return user.LockedUntil.Sub(now)
	}

	// Lock has lapsed; reset so the next failure starts a fresh count.
	user.LockedUntil = nil
	user.FailedAttempts = 0
	if err := m.persist(ctx, user); err != nil {
		logger.Warnw("clear expired lock failed", "userId", user.ID, "error", err)
	}
	return 0
}

// RecordFailure increments the account's failure counter and locks it
// when the threshold is reached. Returns true when this call locked the
// account.
func (m *Manager) RecordFailure(ctx context.Context, user *identity.User) bool {
	if !m.cfg.Enabled || user == nil {
		return false
	}

	user.FailedAttempts++
	locked := user.FailedAttempts >= m.cfg.MaxAttempts
	if locked {
		until := time.Now().Add(m.cfg.Duration)
		user.LockedUntil = &until
	}

	if err := m.persist(ctx, user); err != nil {
		logger.Warnw("persist lockout state failed", "userId", user.ID, "error", err)
	}

	if locked {
		logger.Infow("account locked", "userId", user.ID, "attempts", user.FailedAttempts, "until", user.LockedUntil)
		if m.onLock != nil {
			m.onLock(user)
		}
	}
	return locked
}

// RecordSuccess clears the failure counter when ResetOnSuccess is set.
func (m *Manager) RecordSuccess(ctx context.Context, user *identity.User) {
	if !m.cfg.Enabled || !m.cfg.ResetOnSuccess || user == nil {
		return
	}
	if user.FailedAttempts == 0 && user.LockedUntil == nil {
		return
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	if err := m.persist(ctx, user); err != nil {
		logger.Warnw("reset lockout state failed", "userId", user.ID, "error", err)
	}
}

// Unlock clears lockout state on the account unconditionally.
func (m *Manager) Unlock(ctx context.Context, user *identity.User) error {
	if user == nil {
		return nil
	}
	user.FailedAttempts = 0
	user.LockedUntil = nil
	if err := m.persist(ctx, user); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	logger.Infow("account unlocked", "userId", user.ID)
	return nil
}

func (m *Manager) persist(ctx context.Context, user *identity.User) error {
	update := storage.Record{
		"failedAttempts": user.FailedAttempts,
	}
	if user.LockedUntil != nil {
		update["lockedUntil"] = user.LockedUntil.Format(time.RFC3339Nano)
	} else {
		update["lockedUntil"] = nil
	}
	_, err := m.users.Update(ctx, user.ID, update)
	return err
}
