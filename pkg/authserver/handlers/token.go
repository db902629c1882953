// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/drivers"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/scopes"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// Token serves POST /oauth/token: the four supported grants.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "malformed form body").Write(w)
		return
	}

	grantType := r.PostFormValue("grant_type")
	if !slices.Contains(h.p.SupportedGrantTypes, grantType) {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnsupportedGrantType, "unsupported grant_type").Write(w)
		return
	}

	switch grantType {
	case oauth.GrantClientCredentials:
		h.tokenClientCredentials(w, r)
	case oauth.GrantAuthorizationCode:
		h.tokenAuthorizationCode(w, r)
	case oauth.GrantRefreshToken:
		h.tokenRefresh(w, r)
	case oauth.GrantPassword:
		h.tokenPassword(w, r)
	default:
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnsupportedGrantType, "unsupported grant_type").Write(w)
	}
}

// resolveScopes parses the requested scope string and validates it
// against the server's supported set and the client's allow-list.
func (h *Handler) resolveScopes(requested string, client *identity.Client) ([]string, *oauth.Error) {
	granted := scopes.Parse(requested)
	if err := scopes.Validate(granted, h.p.SupportedScopes); err != nil {
		return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidScope, err.Error())
	}
	if client != nil && len(client.AllowedScopes) > 0 {
		if err := scopes.Validate(granted, client.AllowedScopes); err != nil {
			return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidScope, err.Error())
		}
	}
	return granted, nil
}

func (h *Handler) expirySeconds(expiresIn string) int64 {
	d, err := token.ParseDuration(expiresIn)
	if err != nil {
		return 0
	}
	return int64(d.Seconds())
}

func (h *Handler) accessClaims(sub, aud string, granted []string) map[string]any {
	claims := map[string]any{
		"iss":        h.p.Issuer,
		"sub":        sub,
		"aud":        aud,
		"token_type": oauth.TokenTypeAccess,
		"jti":        uuid.NewString(),
	}
	if len(granted) > 0 {
		claims["scope"] = scopes.Join(granted)
	}
	return claims
}

func (h *Handler) refreshClaims(sub, aud string, granted []string) map[string]any {
	claims := map[string]any{
		"iss":        h.p.Issuer,
		"sub":        sub,
		"aud":        aud,
		"token_type": oauth.TokenTypeRefresh,
		"jti":        uuid.NewString(),
	}
	if len(granted) > 0 {
		claims["scope"] = scopes.Join(granted)
	}
	return claims
}

func (h *Handler) idClaims(user *identity.User, aud, nonce string, granted []string) map[string]any {
	claims := scopes.UserClaims(user, granted)
	claims["iss"] = h.p.Issuer
	claims["sub"] = user.ID
	claims["aud"] = aud
	claims["token_type"] = oauth.TokenTypeID
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return claims
}

func (h *Handler) tokenClientCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, oerr := h.authenticateClient(r)
	if oerr != nil {
		h.violation(r, oerr.Code)
		oerr.Write(w)
		return
	}
	if !client.AllowsGrant(oauth.GrantClientCredentials) {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnauthorizedClient, "client may not use this grant").Write(w)
		return
	}

	granted, oerr := h.resolveScopes(r.PostFormValue("scope"), client)
	if oerr != nil {
		oerr.Write(w)
		return
	}

	access, err := h.mint(ctx, h.accessClaims(client.ClientID, h.p.Issuer, granted), h.p.AccessTokenExpiry)
	if err != nil {
		logger.Errorw("mint access token failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed").Write(w)
		return
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventTokenIssued,
		Actor:    audit.Actor{ClientID: client.ClientID, IP: ClientIP(r)},
		Metadata: map[string]any{"grantType": oauth.GrantClientCredentials, "scope": scopes.Join(granted)},
	})

	writeJSON(w, http.StatusOK, &oauth.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   h.expirySeconds(h.p.AccessTokenExpiry),
		Scope:       scopes.Join(granted),
	})
}

func (h *Handler) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, oerr := h.authenticateClient(r)
	if oerr != nil {
		h.violation(r, oerr.Code)
		oerr.Write(w)
		return
	}

	codeValue := r.PostFormValue("code")
	redirectURI := r.PostFormValue("redirect_uri")
	if codeValue == "" || redirectURI == "" {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "code and redirect_uri are required").Write(w)
		return
	}

	code, err := h.p.Codes.Get(ctx, codeValue)
	if err != nil {
		logger.Errorw("authorization code lookup failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	invalidGrant := func(reason string) {
		// Burn on any validation failure so the code cannot be retried.
		if code != nil {
			if err := h.p.Codes.Burn(ctx, codeValue); err != nil {
				logger.Warnw("burn authorization code failed", "error", err)
			}
		}
		h.violation(r, oauth.ErrCodeInvalidGrant)
		logger.Infow("code exchange rejected", "reason", reason, "clientId", client.ClientID)
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidGrant, "invalid authorization code").Write(w)
	}

	switch {
	case code == nil:
		invalidGrant("unknown code")
		return
	case code.Used || code.Expired(time.Now()):
		invalidGrant("expired code")
		return
	case code.ClientID != client.ClientID:
		invalidGrant("client mismatch")
		return
	case code.RedirectURI != redirectURI:
		invalidGrant("redirect_uri mismatch")
		return
	case !code.VerifyPKCE(r.PostFormValue("code_verifier")):
		invalidGrant("pkce verification failed")
		return
	}

	user, err := h.findUserByID(ctx, code.UserID)
	if err != nil {
		invalidGrant("user not found")
		return
	}

	// Burn before the response: single use even when minting fails.
	if err := h.p.Codes.Burn(ctx, codeValue); err != nil {
		logger.Errorw("burn authorization code failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	granted := scopes.Parse(code.Scope)
	resp, oerr := h.mintUserTokens(ctx, user, client.ClientID, code.Nonce, granted)
	if oerr != nil {
		oerr.Write(w)
		return
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventTokenIssued,
		Actor:    audit.Actor{UserID: user.ID, ClientID: client.ClientID, IP: ClientIP(r)},
		Metadata: map[string]any{"grantType": oauth.GrantAuthorizationCode, "scope": code.Scope},
	})
	writeJSON(w, http.StatusOK, resp)
}

// mintUserTokens builds the token response for a user-centric grant:
// always an access token, an ID token when openid was granted, a refresh
// token when offline_access was granted.
func (h *Handler) mintUserTokens(ctx context.Context, user *identity.User, aud, nonce string, granted []string) (*oauth.TokenResponse, *oauth.Error) {
	claims := h.accessClaims(user.ID, aud, granted)
	if user.MFAEnabled {
		// Resource servers step up when they see this and the session
		// has not completed a second factor.
		claims["mfa_required"] = true
	}
	access, err := h.mint(ctx, claims, h.p.AccessTokenExpiry)
	if err != nil {
		logger.Errorw("mint access token failed", "error", err)
		return nil, oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed")
	}

	resp := &oauth.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   h.expirySeconds(h.p.AccessTokenExpiry),
		Scope:       scopes.Join(granted),
	}

	if slices.Contains(granted, oauth.ScopeOpenID) {
		idToken, err := h.mint(ctx, h.idClaims(user, aud, nonce, granted), h.p.IDTokenExpiry)
		if err != nil {
			logger.Errorw("mint id token failed", "error", err)
			return nil, oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed")
		}
		resp.IDToken = idToken
	}

	if slices.Contains(granted, oauth.ScopeOfflineAccess) &&
		slices.Contains(h.p.SupportedGrantTypes, oauth.GrantRefreshToken) {
		refresh, err := h.mint(ctx, h.refreshClaims(user.ID, aud, granted), h.p.RefreshTokenExpiry)
		if err != nil {
			logger.Errorw("mint refresh token failed", "error", err)
			return nil, oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed")
		}
		resp.RefreshToken = refresh
	}

	return resp, nil
}

func (h *Handler) tokenRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	client, oerr := h.authenticateClient(r)
	if oerr != nil {
		h.violation(r, oerr.Code)
		oerr.Write(w)
		return
	}

	raw := r.PostFormValue("refresh_token")
	if raw == "" {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "refresh_token is required").Write(w)
		return
	}

	v, err := h.verify(ctx, raw)
	if err != nil {
		h.violation(r, oauth.ErrCodeInvalidGrant)
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidGrant, "invalid refresh token").Write(w)
		return
	}
	if token.StringClaim(v.Claims, "token_type") != oauth.TokenTypeRefresh ||
		token.StringClaim(v.Claims, "aud") != client.ClientID ||
		h.validateStandardClaims(v) != nil {
		h.violation(r, oauth.ErrCodeInvalidGrant)
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidGrant, "invalid refresh token").Write(w)
		return
	}

	original := scopes.Parse(token.StringClaim(v.Claims, "scope"))
	granted := original
	if requested := r.PostFormValue("scope"); requested != "" {
		granted = scopes.Parse(requested)
		if !scopes.Subset(granted, original) {
			oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidScope, "scope exceeds original grant").Write(w)
			return
		}
		if client != nil && len(client.AllowedScopes) > 0 {
			if err := scopes.Validate(granted, client.AllowedScopes); err != nil {
				oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidScope, err.Error()).Write(w)
				return
			}
		}
	}

	sub := token.StringClaim(v.Claims, "sub")
	access, err := h.mint(ctx, h.accessClaims(sub, client.ClientID, granted), h.p.AccessTokenExpiry)
	if err != nil {
		logger.Errorw("mint access token failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed").Write(w)
		return
	}

	resp := &oauth.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   h.expirySeconds(h.p.AccessTokenExpiry),
		Scope:       scopes.Join(granted),
	}

	if slices.Contains(granted, oauth.ScopeOpenID) {
		if user, err := h.findUserByID(ctx, sub); err == nil {
			idToken, err := h.mint(ctx, h.idClaims(user, client.ClientID, "", granted), h.p.IDTokenExpiry)
			if err != nil {
				logger.Errorw("mint id token failed", "error", err)
				oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed").Write(w)
				return
			}
			resp.IDToken = idToken
		} else if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("user lookup failed", "error", err)
			oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
			return
		}
	}

	if h.p.RefreshTokenRotation {
		// Kill the presented token, then hand out a replacement carrying
		// the original grant's full scope.
		if exp, ok := token.NumberClaim(v.Claims, "exp"); ok && h.p.Revocations != nil {
			if err := h.p.Revocations.Revoke(ctx, TokenID(v.Claims, raw), time.Unix(exp, 0)); err != nil {
				logger.Errorw("revoke rotated refresh token failed", "error", err)
				oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
				return
			}
		}
		refresh, err := h.mint(ctx, h.refreshClaims(sub, client.ClientID, original), h.p.RefreshTokenExpiry)
		if err != nil {
			logger.Errorw("mint refresh token failed", "error", err)
			oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "token creation failed").Write(w)
			return
		}
		resp.RefreshToken = refresh
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventTokenRefreshed,
		Actor:    audit.Actor{UserID: sub, ClientID: client.ClientID, IP: ClientIP(r)},
		Metadata: map[string]any{"scope": scopes.Join(granted), "rotated": h.p.RefreshTokenRotation},
	})
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) tokenPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := ClientIP(r)

	// The client is optional for the password grant; resource-owner
	// credentials alone are acceptable.
	var client *identity.Client
	if clientID, _ := clientCredentials(r); clientID != "" {
		var oerr *oauth.Error
		client, oerr = h.authenticateClient(r)
		if oerr != nil {
			h.violation(r, oerr.Code)
			oerr.Write(w)
			return
		}
		if !client.AllowsGrant(oauth.GrantPassword) {
			oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnauthorizedClient, "client may not use this grant").Write(w)
			return
		}
	}

	d := h.p.Registry.ForGrant(oauth.GrantPassword)
	if d == nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnauthorizedClient, "password grant not available").Write(w)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	tenantID := r.PostFormValue("tenant_id")

	// Pre-resolve the account so the lockout gate runs before the
	// password is even checked.
	user, err := h.findUser(ctx, userFilter(h.identifierField(), h.normalizeIdentifier(username), tenantID))
	if err != nil {
		logger.Errorw("user lookup failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	if user != nil && h.p.Lockout != nil && h.p.Lockout.Check(ctx, user) > 0 {
		oauth.NewError(http.StatusLocked, "account_locked", "account temporarily locked").Write(w)
		return
	}

	res, err := d.Authenticate(ctx, &drivers.Request{
		GrantType:  oauth.GrantPassword,
		Identifier: username,
		Password:   password,
		TenantID:   tenantID,
		User:       user,
	})
	if err != nil {
		if user != nil && h.p.Lockout != nil && errors.Is(err, drivers.ErrInvalidCredentials) {
			h.p.Lockout.RecordFailure(ctx, user)
		}
		h.violation(r, "invalid_credentials")
		h.emit(ctx, &audit.Event{
			Event: audit.EventLoginFailure,
			Actor: audit.Actor{IP: ip},
		})
		authErr(err).Write(w)
		return
	}
	if !res.User.Active {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidGrant, "account is deactivated").Write(w)
		return
	}
	if h.p.Lockout != nil && user != nil {
		h.p.Lockout.RecordSuccess(ctx, user)
	}

	granted, oerr := h.resolveScopes(r.PostFormValue("scope"), client)
	if oerr != nil {
		oerr.Write(w)
		return
	}

	aud := h.p.Issuer
	clientID := ""
	if client != nil {
		aud = client.ClientID
		clientID = client.ClientID
	}

	resp, oerr := h.mintUserTokens(ctx, res.User, aud, "", granted)
	if oerr != nil {
		oerr.Write(w)
		return
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventLoginSuccess,
		Actor:    audit.Actor{UserID: res.User.ID, ClientID: clientID, IP: ip},
		Metadata: map[string]any{"grantType": oauth.GrantPassword, "scope": scopes.Join(granted)},
	})
	writeJSON(w, http.StatusOK, resp)
}

// userFilter builds the store query for a password-login lookup.
func userFilter(field, identifier, tenantID string) storage.Record {
	filter := storage.Record{field: identifier}
	if tenantID != "" {
		filter["tenantId"] = tenantID
	}
	return filter
}
