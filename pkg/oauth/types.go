// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth contains the shared OAuth 2.0 and OpenID Connect wire types
// used across the authorization server: the standard error envelope, the
// token response, and the discovery metadata documents (RFC 8414 and OIDC
// Discovery 1.0).
package oauth

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Grant types supported by the server (RFC 6749).
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
)

// Response types (RFC 6749 Section 3.1.1).
const (
	ResponseTypeCode = "code"
)

// Token endpoint authentication methods (RFC 8414 Section 2).
const (
	TokenEndpointAuthClientSecretPost  = "client_secret_post"
	TokenEndpointAuthClientSecretBasic = "client_secret_basic"
	TokenEndpointAuthNone              = "none"
)

// Well-known scopes with protocol meaning.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
)

// Token types carried in the token_type claim of issued JWTs.
const (
	TokenTypeAccess  = "access_token"
	TokenTypeRefresh = "refresh_token"
	TokenTypeID      = "id_token"
)

// Standard OAuth 2.0 error codes used by this server.
const (
	ErrCodeInvalidRequest        = "invalid_request"
	ErrCodeInvalidClient         = "invalid_client"
	ErrCodeInvalidGrant          = "invalid_grant"
	ErrCodeInvalidScope          = "invalid_scope"
	ErrCodeUnauthorizedClient    = "unauthorized_client"
	ErrCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrCodeUnsupportedResponse   = "unsupported_response_type"
	ErrCodeAccessDenied          = "access_denied"
	ErrCodeServerError           = "server_error"
	ErrCodeTooManyRequests       = "too_many_requests"
	ErrCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrCodeInvalidClientMetadata = "invalid_client_metadata"
)

// Error is the OAuth 2.0 error envelope (RFC 6749 Section 5.2) plus the
// HTTP status it should be served with. The status is never serialised.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
	Status      int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewError builds an error envelope with the given status.
func NewError(status int, code, description string) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Write serialises the envelope to w with its HTTP status. A zero status
// is served as 400.
func (e *Error) Write(w http.ResponseWriter) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

// TokenResponse is the successful token endpoint response
// (RFC 6749 Section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// IntrospectionResponse is the RFC 7662 introspection response. Only
// Active is set for invalid tokens.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Aud       string `json:"aud,omitempty"`
}

// AuthorizationServerMetadata is the OAuth 2.0 Authorization Server
// Metadata document (RFC 8414).
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// OIDCDiscoveryDocument extends the RFC 8414 metadata with the fields
// required by OIDC Discovery 1.0.
type OIDCDiscoveryDocument struct {
	AuthorizationServerMetadata

	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                  []string `json:"claims_supported,omitempty"`
}
