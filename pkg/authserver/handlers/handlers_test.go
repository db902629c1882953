// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/drivers"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/keys"
	"github.com/authgate/authgate/pkg/authserver/lockout"
	"github.com/authgate/authgate/pkg/storage"
)

const testIssuer = "https://auth.example.com"

type fixture struct {
	h      *Handler
	store  *storage.MemoryStore
	keys   *keys.Manager
	helper *drivers.BcryptHelper
	params Params
}

func newFixture(t *testing.T, mutate func(*Params)) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	km := keys.NewManager(store.Collection("signing_keys"))
	require.NoError(t, km.Initialize(ctx))

	helper := &drivers.BcryptHelper{Cost: 4}
	dc := &drivers.Context{
		Users:    store.Collection("users"),
		Clients:  store.Collection("clients"),
		Tenants:  store.Collection("tenants"),
		Password: helper,
	}
	reg, err := drivers.NewRegistry(ctx, dc, drivers.Options{})
	require.NoError(t, err)

	p := Params{
		Issuer:                 testIssuer,
		AccessTokenExpiry:      "15m",
		RefreshTokenExpiry:     "30d",
		IDTokenExpiry:          "1h",
		AuthCodeExpiry:         "10m",
		SupportedScopes:        []string{"openid", "profile", "email", "offline_access", "read:api"},
		SupportedGrantTypes:    []string{"authorization_code", "client_credentials", "refresh_token", "password"},
		SupportedResponseTypes: []string{"code"},
		Keys:                   km,
		Registry:               reg,
		Users:                  dc.Users,
		Clients:                dc.Clients,
		Codes:                  NewCodeStore(store.Collection("auth_codes")),
		Revocations:            NewRevocationStore(store.Collection("revoked_tokens")),
		Password:               helper,
		Lockout:                lockout.New(lockout.Config{Enabled: true, MaxAttempts: 3, Duration: time.Hour, ResetOnSuccess: true}, dc.Users),
		Audit:                  audit.NewEmitter(),
	}
	if mutate != nil {
		mutate(&p)
	}
	return &fixture{h: New(p), store: store, keys: km, helper: helper, params: p}
}

func (f *fixture) addClient(t *testing.T, c *identity.Client) {
	t.Helper()
	rec, err := storage.Encode(c)
	require.NoError(t, err)
	_, err = f.params.Clients.Insert(context.Background(), rec)
	require.NoError(t, err)
}

func (f *fixture) addUser(t *testing.T, u *identity.User) {
	t.Helper()
	rec, err := storage.Encode(u)
	require.NoError(t, err)
	_, err = f.params.Users.Insert(context.Background(), rec)
	require.NoError(t, err)
}

func (f *fixture) hash(t *testing.T, plain string) string {
	t.Helper()
	h, err := f.helper.Hash(plain)
	require.NoError(t, err)
	return h
}

func postFormRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.9:51515"
	return req
}

func record(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func postForm(h http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	return record(h, postFormRequest(path, form))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
