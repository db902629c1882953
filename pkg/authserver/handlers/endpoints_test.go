// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/keys"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/storage"
)

// mintAccess signs an access token directly through the fixture's key
// manager, bypassing the token endpoint.
func mintAccess(t *testing.T, f *fixture, claims map[string]any, expiry string) string {
	t.Helper()
	key, err := f.keys.Current(context.Background(), "")
	require.NoError(t, err)
	raw, err := token.Create(claims, expiry, key)
	require.NoError(t, err)
	return raw
}

func accessClaimsFor(sub, scope string) map[string]any {
	return map[string]any{
		"iss":        testIssuer,
		"sub":        sub,
		"aud":        testIssuer,
		"scope":      scope,
		"token_type": "access_token",
		"jti":        "test-jti-" + sub + "-" + scope,
	}
}

func TestUserInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addUser(t, &identity.User{
		ID:            "u1",
		Email:         "alice@example.com",
		EmailVerified: true,
		Name:          "Alice",
		GivenName:     "Alice",
		FamilyName:    "Liddell",
		Active:        true,
	})
	raw := mintAccess(t, f, accessClaimsFor("u1", "openid profile email"), "15m")

	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := record(f.h.UserInfo, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeJSON(t, rec)
	assert.Equal(t, "u1", body["sub"])
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, true, body["email_verified"])
}

func TestUserInfoScopeLimitsClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addUser(t, &identity.User{
		ID:     "u1",
		Email:  "alice@example.com",
		Name:   "Alice",
		Active: true,
	})
	raw := mintAccess(t, f, accessClaimsFor("u1", "openid"), "15m")

	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := record(f.h.UserInfo, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "u1", body["sub"])
	assert.NotContains(t, body, "name")
	assert.NotContains(t, body, "email")
}

func TestUserInfoRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"no token", ""},
		{"garbage", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := record(f.h.UserInfo, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestIntrospectionActiveToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	raw := mintAccess(t, f, accessClaimsFor("u1", "read:api"), "15m")

	rec := postForm(f.h.Introspect, "/oauth/introspect", url.Values{"token": {raw}})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "read:api", body["scope"])
	assert.Equal(t, "u1", body["sub"])
	assert.Equal(t, testIssuer, body["iss"])
	assert.Equal(t, "access_token", body["token_type"])
}

func TestIntrospectionLeaksNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	expired := mintAccess(t, f, accessClaimsFor("u1", "read:api"), "0s")
	time.Sleep(1100 * time.Millisecond)

	// A token signed by a key this server has never seen.
	foreignStore := storage.NewMemoryStore()
	foreignKeys := keys.NewManager(foreignStore.Collection("signing_keys"))
	require.NoError(t, foreignKeys.Initialize(context.Background()))
	foreignKey, err := foreignKeys.Current(context.Background(), "")
	require.NoError(t, err)
	foreign, err := token.Create(accessClaimsFor("u1", "read:api"), "15m", foreignKey)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", strings.Repeat("x", 200)},
		{"empty", ""},
		{"expired", expired},
		{"unknown kid", foreign},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := postForm(f.h.Introspect, "/oauth/introspect", url.Values{"token": {tt.token}})
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"active":false}`, rec.Body.String())
		})
	}
}

func TestRevocation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	raw := mintAccess(t, f, accessClaimsFor("u1", "read:api"), "15m")

	before := postForm(f.h.Introspect, "/oauth/introspect", url.Values{"token": {raw}})
	assert.Equal(t, true, decodeJSON(t, before)["active"])

	revoke := postForm(f.h.Revoke, "/oauth/revoke", url.Values{"token": {raw}})
	assert.Equal(t, http.StatusOK, revoke.Code)

	after := postForm(f.h.Introspect, "/oauth/introspect", url.Values{"token": {raw}})
	assert.JSONEq(t, `{"active":false}`, after.Body.String())

	// Userinfo rejects it too: the verifier consults the revocation list.
	req := httptest.NewRequest(http.MethodGet, "/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := record(f.h.UserInfo, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevocationAlways200(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for _, tok := range []string{"", "garbage", strings.Repeat("y", 300)} {
		rec := postForm(f.h.Revoke, "/oauth/revoke", url.Values{"token": {tok}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	}
}

func TestDynamicRegistration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := `{"redirect_uris":["https://newapp/cb"],"client_name":"New App","scope":"openid profile"}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := record(f.h.Register, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeJSON(t, rec)
	clientID := resp["client_id"].(string)
	secret := resp["client_secret"].(string)
	require.NotEmpty(t, clientID)
	require.NotEmpty(t, secret)
	assert.Equal(t, []any{"authorization_code", "refresh_token"}, resp["grant_types"])
	assert.Equal(t, []any{"code"}, resp["response_types"])

	// The stored secret is hashed, never the plaintext.
	recs, err := f.params.Clients.Query(context.Background(), storage.Record{"clientId": clientID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	stored, _ := recs[0]["secret"].(string)
	assert.NotEqual(t, secret, stored)
	assert.True(t, strings.HasPrefix(stored, "$"), "bcrypt hash expected")

	// The issued credentials authenticate (against a grant the client has).
	grant := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {clientID},
		"client_secret": {secret},
	})
	// Registered clients default to authorization_code+refresh_token only.
	assert.Equal(t, http.StatusBadRequest, grant.Code)
	assert.Equal(t, "unauthorized_client", decodeJSON(t, grant)["error"])
}

func TestDynamicRegistrationRejectsBadRedirects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for _, body := range []string{
		`{}`,
		`{"redirect_uris":[]}`,
		`{"redirect_uris":["not a url"]}`,
		`{"redirect_uris":["/relative/path"]}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/oauth/register", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := record(f.h.Register, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestDiscoveryDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	rec := record(f.h.OIDCDiscovery, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, testIssuer, body["issuer"])
	assert.Equal(t, testIssuer+"/oauth/token", body["token_endpoint"])
	assert.Equal(t, testIssuer+"/.well-known/jwks.json", body["jwks_uri"])
	assert.Contains(t, body["token_endpoint_auth_methods_supported"], "client_secret_post")
	assert.Contains(t, body["token_endpoint_auth_methods_supported"], "client_secret_basic")
	assert.Equal(t, []any{"RS256"}, body["id_token_signing_alg_values_supported"])
	assert.Contains(t, body["code_challenge_methods_supported"], "S256")

	rec = record(f.h.Discovery, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testIssuer, decodeJSON(t, rec)["issuer"])
}

func TestJWKSAndRotationTransparency(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := context.Background()

	t1 := mintAccess(t, f, accessClaimsFor("u1", "read:api"), "15m")
	v1, err := token.Verify(ctx, t1, f.keys)
	require.NoError(t, err)

	_, err = f.keys.Rotate(ctx, "")
	require.NoError(t, err)

	rec := record(f.h.JWKS, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	require.Len(t, body["keys"], 2, "both generations advertised")

	// The pre-rotation token stays introspectable.
	intro := postForm(f.h.Introspect, "/oauth/introspect", url.Values{"token": {t1}})
	assert.Equal(t, true, decodeJSON(t, intro)["active"])

	// Fresh tokens carry the new kid.
	t2 := mintAccess(t, f, accessClaimsFor("u2", "read:api"), "15m")
	v2, err := token.Verify(ctx, t2, f.keys)
	require.NoError(t, err)
	assert.NotEqual(t, v1.Kid, v2.Kid)
}
