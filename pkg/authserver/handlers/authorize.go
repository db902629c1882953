// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/authgate/authgate/pkg/authserver/audit"
	"github.com/authgate/authgate/pkg/authserver/drivers"
	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/authserver/scopes"
	"github.com/authgate/authgate/pkg/authserver/token"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/oauth"
)

// authorizeRequest is the validated slice of an authorize call shared by
// the GET and POST paths.
type authorizeRequest struct {
	client      *identity.Client
	redirectURI string
	scope       []string
	state       string
}

// validateAuthorize checks response_type, client, redirect_uri, and
// scope from the query/form values.
func (h *Handler) validateAuthorize(r *http.Request, values url.Values) (*authorizeRequest, *oauth.Error) {
	if rt := values.Get("response_type"); !slices.Contains(h.p.SupportedResponseTypes, rt) {
		return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnsupportedResponse, "unsupported response_type")
	}

	clientID := values.Get("client_id")
	if clientID == "" {
		return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "client_id is required")
	}
	client, err := h.findClient(r.Context(), clientID)
	if err != nil {
		logger.Errorw("client lookup failed", "error", err)
		return nil, oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error")
	}
	if client == nil || !client.Active {
		return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidClient, "unknown client")
	}

	redirectURI := values.Get("redirect_uri")
	if redirectURI == "" || !client.AllowsRedirectURI(redirectURI) {
		// Never redirect to an unregistered URI; respond directly.
		return nil, oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRedirectURI, "redirect_uri is not registered")
	}

	granted, oerr := h.resolveScopes(values.Get("scope"), client)
	if oerr != nil {
		return nil, oerr
	}

	return &authorizeRequest{
		client:      client,
		redirectURI: redirectURI,
		scope:       granted,
		state:       values.Get("state"),
	}, nil
}

// AuthorizeGET serves GET /oauth/authorize: it validates the request and
// returns its resolved parameters for the login UI, which collects
// credentials and posts back.
func (h *Handler) AuthorizeGET(w http.ResponseWriter, r *http.Request) {
	req, oerr := h.validateAuthorize(r, r.URL.Query())
	if oerr != nil {
		oerr.Write(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":    req.client.ClientID,
		"client_name":  req.client.Name,
		"redirect_uri": req.redirectURI,
		"scope":        scopes.Join(req.scope),
		"state":        req.state,
	})
}

// AuthorizePOST serves POST /oauth/authorize: it authenticates the
// resource owner, persists a single-use authorization code, and
// redirects back to the client.
func (h *Handler) AuthorizePOST(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := ClientIP(r)

	if err := r.ParseForm(); err != nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "malformed form body").Write(w)
		return
	}

	req, oerr := h.validateAuthorize(r, r.PostForm)
	if oerr != nil {
		oerr.Write(w)
		return
	}

	challenge := r.PostFormValue("code_challenge")
	method := r.PostFormValue("code_challenge_method")
	if challenge == "" && (h.p.RequirePKCE || req.client.RequirePKCE) {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "code_challenge is required").Write(w)
		return
	}
	if challenge != "" && method != "" && method != PKCEMethodS256 && method != PKCEMethodPlain {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRequest, "unsupported code_challenge_method").Write(w)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.findUser(ctx, userFilter(h.identifierField(), h.normalizeIdentifier(username), req.client.TenantID))
	if err != nil {
		logger.Errorw("user lookup failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}
	if user != nil && h.p.Lockout != nil && h.p.Lockout.Check(ctx, user) > 0 {
		oauth.NewError(http.StatusLocked, "account_locked", "account temporarily locked").Write(w)
		return
	}

	d := h.p.Registry.ForType(drivers.TypePassword)
	if d == nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeUnauthorizedClient, "password authentication not available").Write(w)
		return
	}
	res, err := d.Authenticate(ctx, &drivers.Request{
		Identifier: username,
		Password:   password,
		TenantID:   req.client.TenantID,
		User:       user,
	})
	if err != nil {
		if user != nil && h.p.Lockout != nil {
			h.p.Lockout.RecordFailure(ctx, user)
		}
		h.violation(r, "invalid_credentials")
		h.emit(ctx, &audit.Event{
			Event:    audit.EventAuthorizationDenied,
			Actor:    audit.Actor{ClientID: req.client.ClientID, IP: ip},
			Metadata: map[string]any{"reason": "authentication failed"},
		})
		oauth.NewError(http.StatusUnauthorized, oauth.ErrCodeAccessDenied, "authentication failed").Write(w)
		return
	}
	if h.p.Lockout != nil && user != nil {
		h.p.Lockout.RecordSuccess(ctx, user)
	}

	expiry, err := token.ParseDuration(h.p.AuthCodeExpiry)
	if err != nil {
		logger.Errorw("invalid auth code expiry", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	code, err := h.p.Codes.Issue(ctx, &AuthorizationCode{
		ClientID:            req.client.ClientID,
		UserID:              res.User.ID,
		RedirectURI:         req.redirectURI,
		Scope:               scopes.Join(req.scope),
		Nonce:               r.PostFormValue("nonce"),
		ExpiresAt:           time.Now().Add(expiry),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
	})
	if err != nil {
		logger.Errorw("issue authorization code failed", "error", err)
		oauth.NewError(http.StatusInternalServerError, oauth.ErrCodeServerError, "internal error").Write(w)
		return
	}

	h.emit(ctx, &audit.Event{
		Event:    audit.EventAuthorizationGranted,
		Actor:    audit.Actor{UserID: res.User.ID, ClientID: req.client.ClientID, IP: ip},
		Metadata: map[string]any{"scope": scopes.Join(req.scope)},
	})

	location, err := url.Parse(req.redirectURI)
	if err != nil {
		oauth.NewError(http.StatusBadRequest, oauth.ErrCodeInvalidRedirectURI, "redirect_uri is not a valid URL").Write(w)
		return
	}
	q := location.Query()
	q.Set("code", code)
	if req.state != "" {
		q.Set("state", req.state)
	}
	location.RawQuery = q.Encode()

	http.Redirect(w, r, location.String(), http.StatusFound)
}
