// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package failban tracks per-IP abuse: violations accumulate inside a
// rolling window and tip over into a timed ban. Whitelisted IPs never
// accrue bans; blacklisted IPs are permanently banned. An optional geo
// policy blocks requests by country of origin.
//
// Decisions are read-your-writes within a process. When a record store
// is attached, bans (and optionally violations) are persisted so other
// processes converge on the same bans.
package failban

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// Config configures the failban manager.
type Config struct {
	// Enabled controls whether violations are tracked at all.
	Enabled bool

	// MaxViolations inside ViolationWindow triggers a ban.
	MaxViolations int

	// ViolationWindow is the rolling window violations are counted in.
	ViolationWindow time.Duration

	// BanDuration is how long a triggered ban lasts.
	BanDuration time.Duration

	// Whitelist lists IPs or CIDRs that never accrue bans.
	Whitelist []string

	// Blacklist lists IPs or CIDRs treated as permanently banned.
	Blacklist []string

	// PersistViolations also writes individual violations to the store,
	// not just bans.
	PersistViolations bool

	// Geo is the optional country policy.
	Geo GeoConfig
}

// GeoConfig is the country-level block policy.
type GeoConfig struct {
	Enabled bool

	// AllowedCountries, when non-empty, blocks any country not in it.
	AllowedCountries []string

	// BlockedCountries are always blocked.
	BlockedCountries []string

	// BlockUnknown blocks requests whose country cannot be resolved.
	BlockUnknown bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxViolations:   5,
		ViolationWindow: 5 * time.Minute,
		BanDuration:     15 * time.Minute,
	}
}

// GeoResolver resolves an IP to an ISO country code. Implementations do
// network or database I/O and must honour the context deadline.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// Ban is one active ban. A zero ExpiresAt means permanent (blacklist).
type Ban struct {
	ID        string    `json:"id"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Permanent reports whether the ban never expires.
func (b *Ban) Permanent() bool { return b.ExpiresAt.IsZero() }

// RetryAfter returns the whole seconds until the ban lifts, at least 1.
func (b *Ban) RetryAfter(now time.Time) int {
	if b.Permanent() {
		return 0
	}
	secs := int(b.ExpiresAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

type violation struct {
	at     time.Time
	reason string
}

// Manager owns the violation lists and ban table.
type Manager struct {
	cfg Config
	geo GeoResolver

	// bans and violations collections; nil when running memory-only.
	banStore       storage.Collection
	violationStore storage.Collection

	onBan   func(*Ban)
	onUnban func(ip string)

	mu         sync.Mutex
	violations map[string][]violation
	active     map[string]*Ban
}

// Option configures a Manager.
type Option func(*Manager)

// WithBanStore persists bans to the given collection.
func WithBanStore(col storage.Collection) Option {
	return func(m *Manager) { m.banStore = col }
}

// WithViolationStore persists violations to the given collection. Only
// consulted when Config.PersistViolations is set.
func WithViolationStore(col storage.Collection) Option {
	return func(m *Manager) { m.violationStore = col }
}

// WithGeoResolver attaches a country resolver for the geo policy.
func WithGeoResolver(r GeoResolver) Option {
	return func(m *Manager) { m.geo = r }
}

// WithOnBan sets a callback fired when a ban is created.
func WithOnBan(fn func(*Ban)) Option {
	return func(m *Manager) { m.onBan = fn }
}

// WithOnUnban sets a callback fired when a ban is lifted.
func WithOnUnban(fn func(ip string)) Option {
	return func(m *Manager) { m.onUnban = fn }
}

// New creates a failban manager.
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		violations: make(map[string][]violation),
		active:     make(map[string]*Ban),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordViolation appends one violation for the IP and creates a ban when
// the window count reaches the threshold. Whitelisted and blacklisted
// IPs are no-ops.
func (m *Manager) RecordViolation(ctx context.Context, ip, reason string) {
	if !m.cfg.Enabled || ipMatches(m.cfg.Whitelist, ip) || ipMatches(m.cfg.Blacklist, ip) {
		return
	}

	now := time.Now()

	m.mu.Lock()
	kept := m.violations[ip][:0]
	for _, v := range m.violations[ip] {
		if now.Sub(v.at) < m.cfg.ViolationWindow {
			kept = append(kept, v)
		}
	}
	kept = append(kept, violation{at: now, reason: reason})
	m.violations[ip] = kept
	count := len(kept)

	var ban *Ban
	if count >= m.cfg.MaxViolations {
		ban = &Ban{
			ID:        ip,
			IP:        ip,
			Reason:    reason,
			ExpiresAt: now.Add(m.cfg.BanDuration),
			CreatedAt: now,
		}
		m.active[ip] = ban
		delete(m.violations, ip)
	}
	m.mu.Unlock()

	if m.cfg.PersistViolations && m.violationStore != nil {
		rec := storage.Record{"ip": ip, "reason": reason, "timestamp": now.Format(time.RFC3339Nano)}
		if _, err := m.violationStore.Insert(ctx, rec); err != nil {
			logger.Warnw("persist violation failed", "ip", ip, "error", err)
		}
	}

	if ban != nil {
		m.persistBan(ctx, ban)
		logger.Infow("ip banned", "ip", ip, "reason", reason, "until", ban.ExpiresAt)
		if m.onBan != nil {
			m.onBan(ban)
		}
	}
}

func (m *Manager) persistBan(ctx context.Context, ban *Ban) {
	if m.banStore == nil {
		return
	}
	rec, err := storage.Encode(ban)
	if err != nil {
		logger.Warnw("encode ban failed", "ip", ban.IP, "error", err)
		return
	}
	// Refresh an existing ban record or create a new one.
	if _, err := m.banStore.Update(ctx, ban.IP, rec); err != nil {
		if _, err := m.banStore.Insert(ctx, rec); err != nil {
			logger.Warnw("persist ban failed", "ip", ban.IP, "error", err)
		}
	}
}

// IsBanned reports whether the IP is currently banned and returns the
// ban. Expired bans are lazily cleared.
func (m *Manager) IsBanned(ctx context.Context, ip string) (bool, *Ban) {
	if ipMatches(m.cfg.Blacklist, ip) {
		return true, &Ban{IP: ip, Reason: "blacklisted"}
	}
	if ipMatches(m.cfg.Whitelist, ip) {
		return false, nil
	}

	now := time.Now()

	m.mu.Lock()
	ban := m.active[ip]
	if ban != nil && !ban.Permanent() && !ban.ExpiresAt.After(now) {
		delete(m.active, ip)
		ban = nil
	}
	m.mu.Unlock()

	if ban != nil {
		return true, ban
	}

	// Fall back to the persisted ban table for bans created elsewhere.
	if m.banStore == nil {
		return false, nil
	}
	rec, err := m.banStore.Get(ctx, ip)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("ban lookup failed", "ip", ip, "error", err)
		}
		return false, nil
	}
	stored := new(Ban)
	if err := storage.Decode(rec, stored); err != nil {
		logger.Warnw("decode ban failed", "ip", ip, "error", err)
		return false, nil
	}
	if !stored.Permanent() && !stored.ExpiresAt.After(now) {
		if err := m.banStore.Delete(ctx, ip); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("clear expired ban failed", "ip", ip, "error", err)
		}
		return false, nil
	}

	m.mu.Lock()
	m.active[ip] = stored
	m.mu.Unlock()
	return true, stored
}

// Unban lifts a ban and clears the IP's violation history.
func (m *Manager) Unban(ctx context.Context, ip string) {
	m.mu.Lock()
	delete(m.active, ip)
	delete(m.violations, ip)
	m.mu.Unlock()

	if m.banStore != nil {
		if err := m.banStore.Delete(ctx, ip); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("delete ban failed", "ip", ip, "error", err)
		}
	}
	logger.Infow("ip unbanned", "ip", ip)
	if m.onUnban != nil {
		m.onUnban(ip)
	}
}

// CheckCountryBlock applies the geo policy. It returns the resolved
// country and whether the IP is blocked. Resolution failures block only
// when BlockUnknown is set.
func (m *Manager) CheckCountryBlock(ctx context.Context, ip string) (blocked bool, country string) {
	if !m.cfg.Geo.Enabled || m.geo == nil {
		return false, ""
	}

	country, err := m.geo.Country(ctx, ip)
	if err != nil || country == "" {
		if err != nil {
			logger.Warnw("geo lookup failed", "ip", ip, "error", err)
		}
		return m.cfg.Geo.BlockUnknown, ""
	}

	if len(m.cfg.Geo.AllowedCountries) > 0 && !slices.Contains(m.cfg.Geo.AllowedCountries, country) {
		return true, country
	}
	if slices.Contains(m.cfg.Geo.BlockedCountries, country) {
		return true, country
	}
	return false, country
}

// Middleware refuses requests from banned or geo-blocked IPs with 403.
// keyFn extracts the client IP from the request.
func (m *Manager) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := keyFn(r)

			if banned, ban := m.IsBanned(r.Context(), ip); banned {
				e := oauth.NewError(http.StatusForbidden, oauth.ErrCodeAccessDenied, "access temporarily blocked")
				if retry := ban.RetryAfter(time.Now()); retry > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retry))
				}
				e.Write(w)
				return
			}

			if blocked, _ := m.CheckCountryBlock(r.Context(), ip); blocked {
				oauth.NewError(http.StatusForbidden, oauth.ErrCodeAccessDenied, "access not permitted from this region").Write(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ipMatches reports whether ip equals an entry or falls inside a CIDR
// entry of list.
func ipMatches(list []string, ip string) bool {
	if len(list) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	for _, entry := range list {
		if entry == ip {
			return true
		}
		if _, cidr, err := net.ParseCIDR(entry); err == nil && parsed != nil && cidr.Contains(parsed) {
			return true
		}
	}
	return false
}
