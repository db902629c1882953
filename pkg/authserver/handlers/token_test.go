// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/token"
)

func TestClientCredentialsGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:      "svc-1",
		Secret:        "S3cret!!",
		RedirectURIs:  []string{"https://svc/cb"},
		GrantTypes:    []string{"client_credentials"},
		AllowedScopes: []string{"read:api"},
		Active:        true,
	})

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc-1"},
		"client_secret": {"S3cret!!"},
		"scope":         {"read:api"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeJSON(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(900), body["expires_in"])
	assert.Equal(t, "read:api", body["scope"])
	assert.Empty(t, body["refresh_token"])
	assert.Empty(t, body["id_token"])

	v, err := token.Verify(context.Background(), body["access_token"].(string), f.keys)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, token.StringClaim(v.Claims, "iss"))
	assert.Equal(t, "svc-1", token.StringClaim(v.Claims, "sub"))
	assert.Equal(t, testIssuer, token.StringClaim(v.Claims, "aud"))
	assert.Equal(t, "read:api", token.StringClaim(v.Claims, "scope"))
	assert.NotEmpty(t, token.StringClaim(v.Claims, "jti"))
}

func TestClientCredentialsWrongSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "svc-1",
		Secret:       "S3cret!!",
		RedirectURIs: []string{"https://svc/cb"},
		Active:       true,
	})

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"svc-1"},
		"client_secret": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeJSON(t, rec)["error"])
}

func TestClientCredentialsBasicAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "svc-1",
		Secret:       "S3cret!!",
		RedirectURIs: []string{"https://svc/cb"},
		Active:       true,
	})

	req := postFormRequest("/oauth/token", url.Values{"grant_type": {"client_credentials"}})
	req.SetBasicAuth("svc-1", "S3cret!!")
	rec := record(f.h.Token, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUnsupportedGrantType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := postForm(f.h.Token, "/oauth/token", url.Values{"grant_type": {"device_code"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decodeJSON(t, rec)["error"])
}

func TestGrantNotAllowedForClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "web-app",
		Secret:       "s",
		RedirectURIs: []string{"https://app/cb"},
		GrantTypes:   []string{"authorization_code"},
		Active:       true,
	})

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"web-app"},
		"client_secret": {"s"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unauthorized_client", decodeJSON(t, rec)["error"])
}

func TestInvalidScopeRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:      "svc-1",
		Secret:        "s",
		RedirectURIs:  []string{"https://svc/cb"},
		AllowedScopes: []string{"read:api"},
		Active:        true,
	})

	tests := []struct {
		name  string
		scope string
	}{
		{"unknown to server", "admin:everything"},
		{"outside client allow-list", "openid"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := postForm(f.h.Token, "/oauth/token", url.Values{
				"grant_type":    {"client_credentials"},
				"client_id":     {"svc-1"},
				"client_secret": {"s"},
				"scope":         {tt.scope},
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_scope", decodeJSON(t, rec)["error"])
		})
	}
}

func TestPasswordGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "app-1",
		Secret:       "s",
		RedirectURIs: []string{"https://app/cb"},
		Active:       true,
	})
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Name:     "Alice",
		Password: f.hash(t, "correct horse"),
		Active:   true,
	})

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"username":      {"alice@example.com"},
		"password":      {"correct horse"},
		"scope":         {"openid profile offline_access"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeJSON(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["id_token"], "openid scope mints an ID token")
	assert.NotEmpty(t, body["refresh_token"], "offline_access mints a refresh token")

	v, err := token.Verify(context.Background(), body["access_token"].(string), f.keys)
	require.NoError(t, err)
	assert.Equal(t, "u1", token.StringClaim(v.Claims, "sub"))
	assert.Equal(t, "app-1", token.StringClaim(v.Claims, "aud"))

	idv, err := token.Verify(context.Background(), body["id_token"].(string), f.keys)
	require.NoError(t, err)
	assert.Equal(t, "Alice", token.StringClaim(idv.Claims, "name"))
}

func TestPasswordGrantUniformFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "correct horse"),
		Active:   true,
	})

	wrongPassword := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type": {"password"},
		"username":   {"alice@example.com"},
		"password":   {"wrong"},
	})
	unknownUser := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type": {"password"},
		"username":   {"ghost@example.com"},
		"password":   {"wrong"},
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String(),
		"failure responses must be byte-identical")
}

func TestPasswordGrantLockout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "correct horse"),
		Active:   true,
	})

	form := url.Values{
		"grant_type": {"password"},
		"username":   {"alice@example.com"},
		"password":   {"wrong"},
	}
	for i := 0; i < 3; i++ {
		rec := postForm(f.h.Token, "/oauth/token", form)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// Locked now, even with the correct password.
	form.Set("password", "correct horse")
	rec := postForm(f.h.Token, "/oauth/token", form)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", decodeJSON(t, rec)["error"])
}

func TestPasswordGrantInactiveUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "correct horse"),
		Active:   false,
	})

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type": {"password"},
		"username":   {"alice@example.com"},
		"password":   {"correct horse"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestRefreshGrantNarrowsScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "app-1",
		Secret:       "s",
		RedirectURIs: []string{"https://app/cb"},
		Active:       true,
	})
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "pw"),
		Active:   true,
	})

	grant := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"username":      {"alice@example.com"},
		"password":      {"pw"},
		"scope":         {"openid profile offline_access"},
	})
	require.Equal(t, http.StatusOK, grant.Code, grant.Body.String())
	refresh := decodeJSON(t, grant)["refresh_token"].(string)

	narrowed := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"refresh_token": {refresh},
		"scope":         {"openid"},
	})
	require.Equal(t, http.StatusOK, narrowed.Code, narrowed.Body.String())
	body := decodeJSON(t, narrowed)
	assert.Equal(t, "openid", body["scope"])
	assert.NotEmpty(t, body["id_token"])
	assert.NotEmpty(t, body["access_token"])

	// Widening past the original grant fails.
	widened := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"refresh_token": {refresh},
		"scope":         {"openid email"},
	})
	assert.Equal(t, http.StatusBadRequest, widened.Code)
	assert.Equal(t, "invalid_scope", decodeJSON(t, widened)["error"])
}

func TestRefreshGrantRejectsAccessToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.addClient(t, &identity.Client{
		ClientID:     "app-1",
		Secret:       "s",
		RedirectURIs: []string{"https://app/cb"},
		Active:       true,
	})
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "pw"),
		Active:   true,
	})

	grant := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"username":      {"alice@example.com"},
		"password":      {"pw"},
		"scope":         {"offline_access"},
	})
	require.Equal(t, http.StatusOK, grant.Code)
	access := decodeJSON(t, grant)["access_token"].(string)

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"refresh_token": {access},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestRefreshGrantAudienceMismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for _, id := range []string{"app-1", "app-2"} {
		f.addClient(t, &identity.Client{
			ClientID:     id,
			Secret:       "s",
			RedirectURIs: []string{"https://app/cb"},
			Active:       true,
		})
	}
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "pw"),
		Active:   true,
	})

	grant := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"username":      {"alice@example.com"},
		"password":      {"pw"},
		"scope":         {"offline_access"},
	})
	require.Equal(t, http.StatusOK, grant.Code)
	refresh := decodeJSON(t, grant)["refresh_token"].(string)

	rec := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"app-2"},
		"client_secret": {"s"},
		"refresh_token": {refresh},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, rec)["error"])
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(p *Params) { p.RefreshTokenRotation = true })
	f.addClient(t, &identity.Client{
		ClientID:     "app-1",
		Secret:       "s",
		RedirectURIs: []string{"https://app/cb"},
		Active:       true,
	})
	f.addUser(t, &identity.User{
		ID:       "u1",
		Email:    "alice@example.com",
		Password: f.hash(t, "pw"),
		Active:   true,
	})

	grant := postForm(f.h.Token, "/oauth/token", url.Values{
		"grant_type":    {"password"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"username":      {"alice@example.com"},
		"password":      {"pw"},
		"scope":         {"offline_access"},
	})
	require.Equal(t, http.StatusOK, grant.Code)
	oldRefresh := decodeJSON(t, grant)["refresh_token"].(string)

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"app-1"},
		"client_secret": {"s"},
		"refresh_token": {oldRefresh},
	}
	first := postForm(f.h.Token, "/oauth/token", form)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	newRefresh := decodeJSON(t, first)["refresh_token"].(string)
	assert.NotEmpty(t, newRefresh)
	assert.NotEqual(t, oldRefresh, newRefresh)

	// The consumed token is dead.
	second := postForm(f.h.Token, "/oauth/token", form)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "invalid_grant", decodeJSON(t, second)["error"])

	// The replacement works.
	form.Set("refresh_token", newRefresh)
	third := postForm(f.h.Token, "/oauth/token", form)
	assert.Equal(t, http.StatusOK, third.Code, third.Body.String())
}
