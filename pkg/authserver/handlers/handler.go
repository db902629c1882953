// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the OAuth 2.0 and OIDC HTTP endpoints:
// token, authorize, userinfo, introspection, revocation, dynamic client
// registration, discovery, and JWKS. Each handler composes the key
// manager, token codec, driver registry, and abuse-control managers; the
// server package mounts them on its router.
package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/drivers"
	"github.com/authgate/authgate/pkg/authserver/failban"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/keys"
	"github.com/authgate/authgate/pkg/authserver/lockout"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// Params carries everything the endpoint handlers need. All duration
// fields use the "<int>[smhd]" wire form.
type Params struct {
	Issuer string

	AccessTokenExpiry  string
	RefreshTokenExpiry string
	IDTokenExpiry      string
	AuthCodeExpiry     string

	SupportedScopes        []string
	SupportedGrantTypes    []string
	SupportedResponseTypes []string

	// RequirePKCE makes code_challenge mandatory for every client, not
	// just those registered with requirePkce.
	RequirePKCE bool

	// RefreshTokenRotation issues a fresh refresh token on every refresh
	// grant and revokes the one that was presented.
	RefreshTokenRotation bool

	// IdentifierField is the user field password logins are looked up
	// by. Defaults to "email". Must match the driver context.
	IdentifierField string

	// CaseSensitiveIdentifier disables identifier lower-casing. Must
	// match the driver context.
	CaseSensitiveIdentifier bool

	Keys        *keys.Manager
	Registry    *drivers.Registry
	Users       storage.Collection
	Clients     storage.Collection
	Codes       *CodeStore
	Revocations *RevocationStore
	Password    drivers.PasswordHelper
	Lockout     *lockout.Manager
	Failban     *failban.Manager
	Audit       *audit.Emitter
}

// Handler serves the OAuth2/OIDC endpoint set.
type Handler struct {
	p Params
}

// New creates the endpoint handler set.
func New(p Params) *Handler {
	return &Handler{p: p}
}

// ClientIP extracts the originating client IP, preferring the standard
// proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON serialises v with the no-store caching policy token
// responses require.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("write response failed", "error", err)
	}
}

// authErr translates a driver failure into the OAuth envelope. Unknown
// errors become an opaque server_error.
func authErr(err error) *oauth.Error {
	if ae, ok := err.(*drivers.AuthError); ok {
		return oauth.NewError(ae.Status, ae.Code, "")
	}
	return oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error")
}

// violation records one abuse-control violation for the request's IP.
func (h *Handler) violation(r *http.Request, reason string) {
	if h.p.Failban != nil {
		h.p.Failban.RecordViolation(r.Context(), ClientIP(r), reason)
	}
}

// emit publishes an audit event, never failing the caller.
func (h *Handler) emit(ctx context.Context, ev *audit.Event) {
	h.p.Audit.Emit(ctx, ev)
}

// findClient looks a client up by its public clientId. A nil client with
// nil error means not found.
func (h *Handler) findClient(ctx context.Context, clientID string) (*identity.Client, error) {
	recs, err := h.p.Clients.Query(ctx, storage.Record{"clientId": clientID})
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	client := new(identity.Client)
	if err := storage.Decode(recs[0], client); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	return client, nil
}

// normalizeIdentifier applies the same trimming and case folding the
// password driver applies before lookup.
func (h *Handler) normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if !h.p.CaseSensitiveIdentifier {
		identifier = strings.ToLower(identifier)
	}
	return identifier
}

func (h *Handler) identifierField() string {
	if h.p.IdentifierField != "" {
		return h.p.IdentifierField
	}
	return "email"
}

// findUser looks a user up by the configured identifier field.
func (h *Handler) findUser(ctx context.Context, filter storage.Record) (*identity.User, error) {
	recs, err := h.p.Users.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	user := new(identity.User)
	if err := storage.Decode(recs[0], user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

// findUserByID fetches a user record by primary ID.
func (h *Handler) findUserByID(ctx context.Context, id string) (*identity.User, error) {
	rec, err := h.p.Users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user := new(identity.User)
	if err := storage.Decode(rec, user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return user, nil
}

// clientCredentials pulls client_id/client_secret from Basic auth or the
// form body, Basic winning.
func clientCredentials(r *http.Request) (id, secret string) {
	if id, secret, ok := r.BasicAuth(); ok && id != "" {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// authenticateClient resolves and, for confidential clients, verifies the
// caller. Public clients (no stored secret) pass with just the lookup.
func (h *Handler) authenticateClient(r *http.Request) (*identity.Client, *oauth.Error) {
	ctx := r.Context()
	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		return nil, oauth.NewError(http.StatusUnauthorized, oauth.ErrCodeInvalidClient, "client authentication required")
	}

	client, err := h.findClient(ctx, clientID)
	if err != nil {
		logger.Errorw("client lookup failed", "error", err)
		return nil, oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error")
	}
	if client == nil {
		return nil, oauth.NewError(http.StatusUnauthorized, oauth.ErrCodeInvalidClient, "client authentication failed")
	}
	if !client.Active {
		return nil, oauth.NewError(http.StatusForbidden, "inactive_client", "client is deactivated")
	}

	if len(client.SecretList()) == 0 {
		// Public client.
		return client, nil
	}

	d := h.p.Registry.ForType(drivers.TypeClientCredentials)
	if d == nil {
		return nil, oauth.NewError(http.StatusUnauthorized, oauth.ErrCodeInvalidClient, "client authentication unavailable")
	}
	if _, err := d.Authenticate(ctx, &drivers.Request{ClientID: clientID, ClientSecret: clientSecret}); err != nil {
		return nil, authErr(err)
	}
	return client, nil
}

// mint signs a token with the current key.
func (h *Handler) mint(ctx context.Context, claims map[string]any, expiresIn string) (string, error) {
	key, err := h.p.Keys.Current(ctx, "")
	if err != nil {
		return "", err
	}
	return token.Create(claims, expiresIn, key)
}

// verify parses, verifies, and checks the token against the revocation
// list. Every failure path returns an error; nothing is partially
// accepted.
func (h *Handler) verify(ctx context.Context, raw string) (*token.Verified, error) {
	v, err := token.Verify(ctx, raw, h.p.Keys)
	if err != nil {
		return nil, err
	}
	if h.p.Revocations != nil && h.p.Revocations.IsRevoked(ctx, TokenID(v.Claims, raw)) {
		return nil, token.ErrInvalidToken
	}
	return v, nil
}

// validateStandardClaims checks iss and iat on a verified token. iat may
// sit up to 60s in the future to absorb clock skew; exp was already
// enforced during verification.
func (h *Handler) validateStandardClaims(v *token.Verified) error {
	if iss := token.StringClaim(v.Claims, "iss"); iss != h.p.Issuer {
		return fmt.Errorf("%w: issuer mismatch", token.ErrInvalidToken)
	}
	if iat, ok := token.NumberClaim(v.Claims, "iat"); ok && iat > time.Now().Add(60*time.Second).Unix() {
		return fmt.Errorf("%w: issued in the future", token.ErrInvalidToken)
	}
	return nil
}

// randomToken returns n bytes of URL-safe randomness.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
