// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/authgate/authgate/pkg/authserver/scopes"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
)

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// UserInfo serves GET /oauth/userinfo (OIDC Core Section 5.3). The
// response carries sub plus the claims the token's scope entitles the
// caller to.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := bearerToken(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		oauth.NewError(http.StatusUnauthorized, oauth.ErrCodeInvalidRequest, "bearer token required").Write(w)
		return
	}

	v, err := h.verify(ctx, raw)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauth.NewError(http.StatusUnauthorized, "invalid_token", "token verification failed").Write(w)
		return
	}
	if err := h.validateStandardClaims(v); err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauth.NewError(http.StatusUnauthorized, "invalid_token", "token verification failed").Write(w)
		return
	}

	sub := token.StringClaim(v.Claims, "sub")
	user, err := h.findUserByID(ctx, sub)
	if err != nil {
		logger.Infow("userinfo for unknown subject", "sub", sub)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		oauth.NewError(http.StatusUnauthorized, "invalid_token", "token verification failed").Write(w)
		return
	}

	granted := scopes.Parse(token.StringClaim(v.Claims, "scope"))
	claims := scopes.UserClaims(user, granted)
	claims["sub"] = user.ID

	writeJSON(w, http.StatusOK, claims)
}
