// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
)

// discoveryCacheControl lets intermediaries cache the static metadata
// documents briefly.
const discoveryCacheControl = "public, max-age=300"

func (h *Handler) metadata() oauth.AuthorizationServerMetadata {
	iss := h.p.Issuer
	methods := []string{
		oauth.TokenEndpointAuthClientSecretPost,
		oauth.TokenEndpointAuthClientSecretBasic,
		oauth.TokenEndpointAuthNone,
	}
	return oauth.AuthorizationServerMetadata{
		Issuer:                            iss,
		AuthorizationEndpoint:             iss + "/oauth/authorize",
		TokenEndpoint:                     iss + "/oauth/token",
		UserinfoEndpoint:                  iss + "/oauth/userinfo",
		JWKSURI:                           iss + "/.well-known/jwks.json",
		IntrospectionEndpoint:             iss + "/oauth/introspect",
		RevocationEndpoint:                iss + "/oauth/revoke",
		RegistrationEndpoint:              iss + "/oauth/register",
		ScopesSupported:                   h.p.SupportedScopes,
		ResponseTypesSupported:            h.p.SupportedResponseTypes,
		GrantTypesSupported:               h.p.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: methods,
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
	}
}

func writeCached(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", discoveryCacheControl)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("write response failed", "error", err)
	}
}

// Discovery serves GET /.well-known/oauth-authorization-server
// (RFC 8414).
func (h *Handler) Discovery(w http.ResponseWriter, _ *http.Request) {
	writeCached(w, h.metadata())
}

// OIDCDiscovery serves GET /.well-known/openid-configuration.
func (h *Handler) OIDCDiscovery(w http.ResponseWriter, _ *http.Request) {
	writeCached(w, oauth.OIDCDiscoveryDocument{
		AuthorizationServerMetadata: h.metadata(),
		SubjectTypesSupported:       []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{
			"RS256",
		},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "iat", "exp",
			"name", "given_name", "family_name", "nickname", "picture", "locale",
			"email", "email_verified",
		},
	})
}

// JWKS serves GET /.well-known/jwks.json: every known public key, active
// or rotated out, so older tokens keep verifying.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set, err := h.p.Keys.JWKS(r.Context())
	if err != nil {
		logger.Errorw("assemble jwks failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	writeCached(w, set)
}
