// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
)

// Introspect serves POST /oauth/introspect (RFC 7662). It always
// responds 200; any verification failure yields {"active":false} with no
// hint of the reason.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	inactive := func() {
		writeJSON(w, http.StatusOK, &oauth.IntrospectionResponse{Active: false})
	}

	if err := r.ParseForm(); err != nil {
		inactive()
		return
	}
	raw := r.PostFormValue("token")
	if raw == "" {
		inactive()
		return
	}

	v, err := h.verify(r.Context(), raw)
	if err != nil {
		inactive()
		return
	}
	if err := h.validateStandardClaims(v); err != nil {
		inactive()
		return
	}

	exp, _ := token.NumberClaim(v.Claims, "exp")
	iat, _ := token.NumberClaim(v.Claims, "iat")

	writeJSON(w, http.StatusOK, &oauth.IntrospectionResponse{
		Active:    true,
		Scope:     token.StringClaim(v.Claims, "scope"),
		ClientID:  token.StringClaim(v.Claims, "aud"),
		Username:  token.StringClaim(v.Claims, "sub"),
		TokenType: token.StringClaim(v.Claims, "token_type"),
		Exp:       exp,
		Iat:       iat,
		Sub:       token.StringClaim(v.Claims, "sub"),
		Iss:       token.StringClaim(v.Claims, "iss"),
		Aud:       token.StringClaim(v.Claims, "aud"),
	})
}

// Revoke serves POST /oauth/revoke (RFC 7009). Per the RFC the response
// is 200 whether or not the token was valid; a verified token lands on
// the revocation list until its natural expiry.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	done := func() {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}

	if err := r.ParseForm(); err != nil {
		done()
		return
	}
	raw := r.PostFormValue("token")
	if raw == "" {
		done()
		return
	}

	ctx := r.Context()
	v, err := h.verify(ctx, raw)
	if err != nil || h.validateStandardClaims(v) != nil {
		// Invalid or already-revoked tokens need no record.
		done()
		return
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if exp, ok := token.NumberClaim(v.Claims, "exp"); ok {
		expiresAt = time.Unix(exp, 0)
	}
	if err := h.p.Revocations.Revoke(ctx, TokenID(v.Claims, raw), expiresAt); err != nil {
		// RFC 7009 mandates 200 even here; the failure is logged for the
		// operator.
		logger.Errorw("record revocation failed", "error", err)
		done()
		return
	}

	h.emit(ctx, &audit.Event{
		Event: audit.EventTokenRevoked,
		Actor: audit.Actor{
			UserID:   token.StringClaim(v.Claims, "sub"),
			ClientID: token.StringClaim(v.Claims, "aud"),
			IP:       ClientIP(r),
		},
		Metadata: map[string]any{"tokenType": token.StringClaim(v.Claims, "token_type")},
	})
	done()
}
