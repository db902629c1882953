// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/scopes"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
	"github.com/authgate/authgate/pkg/storage"
)

// clientIDBytes and clientSecretBytes size the generated credentials.
const (
	clientIDBytes     = 16
	clientSecretBytes = 32
)

// registrationRequest is the RFC 7591 client metadata we accept.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// registrationResponse is returned once, with the only copy of the
// plaintext secret that will ever exist.
type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Register serves POST /oauth/register (RFC 7591). The stored secret is
// a bcrypt hash; the plaintext goes out in the 201 body and is never
// recoverable afterwards.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidClientMetadata, "malformed registration body").Write(w)
		return
	}

	if err := identity.ValidateRedirectURIs(req.RedirectURIs); err != nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRedirectURI, err.Error()).Write(w)
		return
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{oauth.GrantAuthorizationCode, oauth.GrantRefreshToken}
	}
	for _, gt := range grantTypes {
		switch gt {
		case oauth.GrantAuthorizationCode, oauth.GrantClientCredentials, oauth.GrantRefreshToken, oauth.GrantPassword:
		default:
			oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidClientMetadata, "unsupported grant type").Write(w)
			return
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{oauth.ResponseTypeCode}
	}

	allowedScopes := h.p.SupportedScopes
	if req.Scope != "" {
		requested := scopes.Parse(req.Scope)
		if err := scopes.Validate(requested, h.p.SupportedScopes); err != nil {
			oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidScope, err.Error()).Write(w)
			return
		}
		allowedScopes = requested
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthClientSecretPost
	}

	clientID, err := randomToken(clientIDBytes)
	if err != nil {
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	secret, err := randomToken(clientSecretBytes)
	if err != nil {
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	secretHash, err := h.p.Password.Hash(secret)
	if err != nil {
		logger.Errorw("hash client secret failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	now := time.Now().UTC()
	client := &identity.Client{
		ClientID:                clientID,
		Name:                    req.ClientName,
		Secret:                  secretHash,
		RedirectURIs:            req.RedirectURIs,
		AllowedScopes:           allowedScopes,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Active:                  true,
		CreatedAt:               now,
	}
	rec, err := storage.Encode(client)
	if err != nil {
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	if _, err := h.p.Clients.Insert(ctx, rec); err != nil {
		logger.Errorw("persist client failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventClientRegistered,
		Actor:    audit.Actor{ClientID: clientID, IP: ClientIP(r)},
		Resource: "clients/" + clientID,
		Metadata: map[string]any{"grantTypes": grantTypes},
	})

	writeJSON(w, http.StatusCreated, &registrationResponse{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        now.Unix(),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   scopes.Join(allowedScopes),
		TokenEndpointAuthMethod: authMethod,
	})
}
