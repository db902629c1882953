// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package drivers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/authgate/authgate/pkg/authserver/identity"
	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// hashedSecretPrefixes mark a stored secret as a hash to be checked with
// the password helper rather than compared directly.
var hashedSecretPrefixes = []string{"$", "s3db$"}

// ClientCredentialsDriver authenticates OAuth2 client applications by ID
// and secret. Stored secrets may be plaintext, hashed, or a rotation list
// mixing both; plaintext comparison is constant-time.
type ClientCredentialsDriver struct {
	dc *Context
}

// NewClientCredentialsDriver creates the built-in client driver.
func NewClientCredentialsDriver() *ClientCredentialsDriver {
	return &ClientCredentialsDriver{}
}

// Initialize implements Driver.
func (d *ClientCredentialsDriver) Initialize(_ context.Context, dc *Context) error {
	if dc.Clients == nil {
		return fmt.Errorf("client-credentials driver requires a clients resource")
	}
	if dc.Password == nil {
		return fmt.Errorf("client-credentials driver requires a password helper")
	}
	d.dc = dc
	return nil
}

// Types implements Driver.
func (*ClientCredentialsDriver) Types() []string { return []string{TypeClientCredentials} }

// SupportsGrant implements Driver. The driver authenticates the client on
// every grant that carries client credentials, not only its own grant.
func (*ClientCredentialsDriver) SupportsGrant(grantType string) bool {
	return grantType == TypeClientCredentials
}

// Authenticate implements Driver.
func (d *ClientCredentialsDriver) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidClient
	}

	client, err := d.lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		logger.Infow("client auth failed: unknown client")
		return nil, ErrInvalidClient
	}
	if !client.Active {
		return nil, ErrInactiveClient
	}

	secrets := client.SecretList()
	if len(secrets) == 0 {
		return nil, ErrInvalidClient
	}

	for _, stored := range secrets {
		if d.secretMatches(req.ClientSecret, stored) {
			return &Result{Client: client.Sanitized()}, nil
		}
	}

	logger.Infow("client auth failed: secret mismatch", "clientId", client.ClientID)
	return nil, ErrInvalidClient
}

// secretMatches checks one stored secret. Hashes go through the password
// helper; plaintext is compared constant-time.
func (d *ClientCredentialsDriver) secretMatches(presented, stored string) bool {
	if presented == "" {
		return false
	}
	for _, prefix := range hashedSecretPrefixes {
		if strings.HasPrefix(stored, prefix) {
			return d.dc.Password.Verify(presented, strings.TrimPrefix(stored, "s3db$"))
		}
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

func (d *ClientCredentialsDriver) lookup(ctx context.Context, clientID string) (*identity.Client, error) {
	recs, err := d.dc.Clients.Query(ctx, storage.Record{"clientId": clientID})
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	client := new(identity.Client)
	if err := storage.Decode(recs[0], client); err != nil {
		return nil, fmt.Errorf("decode client: %w", err)
	}
	return client, nil
}

// Lookup fetches a client without authenticating it. The endpoint layer
// uses this for authorize-flow validation where no secret is presented.
func (d *ClientCredentialsDriver) Lookup(ctx context.Context, clientID string) (*identity.Client, error) {
	return d.lookup(ctx, clientID)
}

var _ Driver = (*ClientCredentialsDriver)(nil)
