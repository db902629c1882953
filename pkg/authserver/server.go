// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles an embeddable OAuth 2.0 / OpenID Connect
// authorization server over a pluggable record store. It wires the key
// manager, token codec, authentication drivers, abuse-control managers,
// and endpoint handlers into one http.Handler.
package authserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/drivers"
	"github.com/authgate/authgate/pkg/authserver/failban"
	"github.com/authgate/authgate/pkg/authserver/handlers"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/keys"
	"github.com/authgate/authgate/pkg/authserver/lockout"
	"github.com/authgate/authgate/pkg/authserver/ratelimit"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Collection names used by the server.
const (
	colUsers         = "users"
	colClients       = "clients"
	colTenants       = "tenants"
	colSigningKeys   = "signing_keys"
	colAuthCodes     = "auth_codes"
	colRevokedTokens = "revoked_tokens"
	colIPBans        = "ip_bans"
	colIPViolations  = "ip_violations"
	colAuditEvents   = "audit_events"
)

// Server is the assembled authorization server.
type Server struct {
	cfg   *Config
	store storage.Store

	// ownsStore is set when the server opened the store itself and must
	// close it.
	ownsStore bool

	keys     *keys.Manager
	registry *drivers.Registry
	failban  *failban.Manager
	lockout  *lockout.Manager
	audit    *audit.Emitter
	handler  *handlers.Handler
	codes    *handlers.CodeStore

	router chi.Router
}

// Option customises server assembly.
type Option func(*options)

type options struct {
	store      storage.Store
	auditSinks []audit.Sink
	drivers    []drivers.Driver
	geo        failban.GeoResolver
}

// WithStore injects an externally managed record store. The caller keeps
// ownership; Close will not touch it.
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithAuditSinks replaces the default log sink.
func WithAuditSinks(sinks ...audit.Sink) Option {
	return func(o *options) { o.auditSinks = sinks }
}

// WithDrivers registers custom authentication drivers alongside the
// built-ins.
func WithDrivers(ds ...drivers.Driver) Option {
	return func(o *options) { o.drivers = append(o.drivers, ds...) }
}

// WithGeoResolver attaches a country resolver for the failban geo
// policy.
func WithGeoResolver(g failban.GeoResolver) Option {
	return func(o *options) { o.geo = g }
}

// New assembles a server from the configuration. The store is opened (or
// adopted), the signing keys are loaded or generated, and the drivers
// are initialized; any failure prevents startup.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg}

	if o.store != nil {
		s.store = o.store
	} else {
		store, err := cfg.openStore(ctx)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.ownsStore = true
	}

	s.keys = keys.NewManager(s.store.Collection(colSigningKeys))
	if err := s.keys.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize keys: %w", err)
	}

	helper := &drivers.BcryptHelper{Cost: cfg.BcryptCost}
	dc := &drivers.Context{
		Users:                   s.store.Collection(colUsers),
		Clients:                 s.store.Collection(colClients),
		Tenants:                 s.store.Collection(colTenants),
		Password:                helper,
		IdentifierField:         cfg.IdentifierField,
		CaseSensitiveIdentifier: cfg.CaseSensitiveIdentifier,
	}
	registry, err := drivers.NewRegistry(ctx, dc, drivers.Options{
		DisablePassword:          cfg.DisablePasswordDriver,
		DisableClientCredentials: cfg.DisableClientCredentialsDriver,
		Custom:                   o.drivers,
	})
	if err != nil {
		return nil, err
	}
	s.registry = registry

	sinks := o.auditSinks
	if len(sinks) == 0 {
		sinks = []audit.Sink{audit.LogSink{}}
	}
	if cfg.PersistAuditEvents {
		sinks = append(sinks, &audit.StoreSink{Events: s.store.Collection(colAuditEvents)})
	}
	s.audit = audit.NewEmitter(sinks...)

	s.lockout = lockout.New(cfg.Lockout, dc.Users,
		lockout.WithOnLock(func(u *identity.User) {
			s.audit.Emit(ctx, &audit.Event{
				Event: audit.EventAccountLocked,
				Actor: audit.Actor{UserID: u.ID},
			})
		}))

	fbOpts := []failban.Option{
		failban.WithBanStore(s.store.Collection(colIPBans)),
		failban.WithOnBan(func(b *failban.Ban) {
			s.audit.Emit(ctx, &audit.Event{
				Event:    audit.EventIPBanned,
				Actor:    audit.Actor{IP: b.IP},
				Metadata: map[string]any{"reason": b.Reason, "expiresAt": b.ExpiresAt},
			})
		}),
		failban.WithOnUnban(func(ip string) {
			s.audit.Emit(ctx, &audit.Event{
				Event: audit.EventIPUnbanned,
				Actor: audit.Actor{IP: ip},
			})
		}),
	}
	if cfg.Failban.PersistViolations {
		fbOpts = append(fbOpts, failban.WithViolationStore(s.store.Collection(colIPViolations)))
	}
	if o.geo != nil {
		fbOpts = append(fbOpts, failban.WithGeoResolver(o.geo))
	}
	s.failban = failban.New(cfg.Failban, fbOpts...)

	s.codes = handlers.NewCodeStore(s.store.Collection(colAuthCodes))

	s.handler = handlers.New(handlers.Params{
		Issuer:                  cfg.Issuer,
		AccessTokenExpiry:       cfg.AccessTokenExpiry,
		RefreshTokenExpiry:      cfg.RefreshTokenExpiry,
		IDTokenExpiry:           cfg.IDTokenExpiry,
		AuthCodeExpiry:          cfg.AuthCodeExpiry,
		SupportedScopes:         cfg.SupportedScopes,
		SupportedGrantTypes:     cfg.SupportedGrantTypes,
		SupportedResponseTypes:  cfg.SupportedResponseTypes,
		RequirePKCE:             cfg.RequirePKCE,
		RefreshTokenRotation:    cfg.RefreshTokenRotation,
		IdentifierField:         cfg.IdentifierField,
		CaseSensitiveIdentifier: cfg.CaseSensitiveIdentifier,
		Keys:                    s.keys,
		Registry:                s.registry,
		Users:                   dc.Users,
		Clients:                 dc.Clients,
		Codes:                   s.codes,
		Revocations:             handlers.NewRevocationStore(s.store.Collection(colRevokedTokens)),
		Password:                helper,
		Lockout:                 s.lockout,
		Failban:                 s.failban,
		Audit:                   s.audit,
	})

	s.router = s.buildRouter()
	logger.Infow("authorization server assembled",
		"issuer", cfg.Issuer,
		"storage", cfg.Storage.Backend,
		"grantTypes", cfg.SupportedGrantTypes,
	)
	return s, nil
}

func (s *Server) buildRouter() chi.Router {
	h := s.handler
	keyFn := handlers.ClientIP

	limLogin := ratelimit.New(s.cfg.LoginRateLimit)
	limToken := ratelimit.New(s.cfg.TokenRateLimit)
	limAuthorize := ratelimit.New(s.cfg.AuthorizeRateLimit)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/openid-configuration", h.OIDCDiscovery)
	r.Get("/.well-known/oauth-authorization-server", h.Discovery)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Route("/oauth", func(r chi.Router) {
		r.Use(s.failban.Middleware(keyFn))

		r.With(limToken.Middleware(keyFn)).Post("/token", h.Token)
		r.With(limAuthorize.Middleware(keyFn)).Get("/authorize", h.AuthorizeGET)
		r.With(limLogin.Middleware(keyFn)).Post("/authorize", h.AuthorizePOST)

		r.Get("/userinfo", h.UserInfo)
		r.Post("/introspect", h.Introspect)
		r.Post("/revoke", h.Revoke)
		r.Post("/register", h.Register)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Keys exposes the key manager so embedders can schedule rotation.
func (s *Server) Keys() *keys.Manager { return s.keys }

// Store exposes the record store for seeding users and clients.
func (s *Server) Store() storage.Store { return s.store }

// Failban exposes the failban manager for administrative unbans.
func (s *Server) Failban() *failban.Manager { return s.failban }

// StartJanitor sweeps expired authorization codes on the interval until
// the context is cancelled.
func (s *Server) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed, err := s.codes.Sweep(ctx); err != nil {
					logger.Warnw("code sweep failed", "error", err)
				} else if removed > 0 {
					logger.Debugw("swept expired authorization codes", "removed", removed)
				}
			}
		}
	}()
}

// Close releases resources the server owns.
func (s *Server) Close() error {
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}
