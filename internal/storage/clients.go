package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/scope"
)

// Client token-endpoint authentication methods.
const (
	TokenEndpointAuthNone         = "none"
	TokenEndpointAuthClientSecret = "client_secret_basic"
)

// Client Zero-Knowledge Delivery modes.
const (
	ZKDeliveryNone        = "none"
	ZKDeliveryFragmentJWE = "fragment-jwe"
)

// ErrInvalidClientPolicy is returned when a Client value violates one
// of the registry's structural invariants (see ValidatePolicy).
var ErrInvalidClientPolicy = errors.New("storage: invalid client policy")

// Client is a registered OAuth 2.1 relying party. ZKDEncPublicJWK is
// the client's public encryption key, present only for clients that
// participate in Zero-Knowledge Delivery of the Data Root Key.
//
// IsPublic and TokenEndpointAuthMethod are two views of the same fact
// and are kept in lockstep by ValidatePolicy: a public client always
// authenticates with none and never carries a ClientSecretEnc.
type Client struct {
	ClientID                string          `json:"client_id"`
	ClientName              string          `json:"client_name"`
	IsPublic                bool            `json:"is_public"`
	TokenEndpointAuthMethod string          `json:"token_endpoint_auth_method"`
	ClientSecretEnc         []byte          `json:"-"`
	RequirePKCE             bool            `json:"require_pkce"`
	ZKDelivery              string          `json:"zk_delivery"`
	ZKRequired              bool            `json:"zk_required"`
	AllowedJWEAlgs          []string        `json:"allowed_jwe_algs,omitempty"`
	AllowedJWEEncs          []string        `json:"allowed_jwe_encs,omitempty"`
	RedirectURIs            []string        `json:"redirect_uris"`
	PostLogoutRedirectURIs  []string        `json:"post_logout_redirect_uris,omitempty"`
	AllowedZKOrigins        []string        `json:"allowed_zk_origins,omitempty"`
	GrantTypes              []string        `json:"grant_types"`
	ResponseTypes           []string        `json:"response_types"`
	Scopes                  scope.List      `json:"scopes,omitempty"`
	IDTokenLifetimeS        *int            `json:"id_token_lifetime_s,omitempty"`
	RefreshTokenLifetimeS   *int            `json:"refresh_token_lifetime_s,omitempty"`
	ZKDEncPublicJWK         json.RawMessage `json:"zkd_enc_public_jwk,omitempty"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// ValidatePolicy enforces the registry's two load-bearing invariants:
// a public client can never present a client_secret, and a client
// claiming client_secret_basic auth must have one on file. Called by
// storage.CreateClient/UpdateClient so no code path can persist a row
// that violates it, not just the admin API's entry point.
func (c *Client) ValidatePolicy() error {
	if c.IsPublic {
		if c.TokenEndpointAuthMethod != TokenEndpointAuthNone {
			return fmt.Errorf("%w: public client must use token_endpoint_auth_method=none", ErrInvalidClientPolicy)
		}
		if len(c.ClientSecretEnc) != 0 {
			return fmt.Errorf("%w: public client must not have a client_secret", ErrInvalidClientPolicy)
		}
	}
	if c.TokenEndpointAuthMethod == TokenEndpointAuthClientSecret && len(c.ClientSecretEnc) == 0 {
		return fmt.Errorf("%w: client_secret_basic requires a client_secret on file", ErrInvalidClientPolicy)
	}
	return nil
}

const clientColumns = `client_id, client_name, is_public, token_endpoint_auth_method, client_secret_enc,
	require_pkce, zk_delivery, zk_required, allowed_jwe_algs, allowed_jwe_encs, redirect_uris,
	post_logout_redirect_uris, allowed_zk_origins, grant_types, response_types, scopes,
	id_token_lifetime_s, refresh_token_lifetime_s, zkd_enc_public_jwk, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ClientID, &c.ClientName, &c.IsPublic, &c.TokenEndpointAuthMethod, &c.ClientSecretEnc,
		&c.RequirePKCE, &c.ZKDelivery, &c.ZKRequired, &c.AllowedJWEAlgs, &c.AllowedJWEEncs, &c.RedirectURIs,
		&c.PostLogoutRedirectURIs, &c.AllowedZKOrigins, &c.GrantTypes, &c.ResponseTypes, &c.Scopes,
		&c.IDTokenLifetimeS, &c.RefreshTokenLifetimeS, &c.ZKDEncPublicJWK, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan client: %w", err)
	}
	return &c, nil
}

// CreateClient inserts a new client registry row. clientName and every
// redirect URI are expected to already have been run through
// bluemonday's strict policy by the handler layer before reaching
// storage, since this value is later rendered back into admin UI and
// consent screens.
func CreateClient(ctx context.Context, pool *pgxpool.Pool, c *Client) (*Client, error) {
	if err := c.ValidatePolicy(); err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx,
		`INSERT INTO clients (client_id, client_name, is_public, token_endpoint_auth_method, client_secret_enc,
		   require_pkce, zk_delivery, zk_required, allowed_jwe_algs, allowed_jwe_encs, redirect_uris,
		   post_logout_redirect_uris, allowed_zk_origins, grant_types, response_types, scopes,
		   id_token_lifetime_s, refresh_token_lifetime_s, zkd_enc_public_jwk)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING `+clientColumns,
		c.ClientID, c.ClientName, c.IsPublic, c.TokenEndpointAuthMethod, c.ClientSecretEnc,
		c.RequirePKCE, c.ZKDelivery, c.ZKRequired, c.AllowedJWEAlgs, c.AllowedJWEEncs, c.RedirectURIs,
		c.PostLogoutRedirectURIs, c.AllowedZKOrigins, c.GrantTypes, c.ResponseTypes, c.Scopes,
		c.IDTokenLifetimeS, c.RefreshTokenLifetimeS, c.ZKDEncPublicJWK,
	)
	created, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return created, nil
}

// GetClient retrieves a client by client_id.
func GetClient(ctx context.Context, pool *pgxpool.Pool, clientID string) (*Client, error) {
	row := pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, clientID)
	return scanClient(row)
}

// ListClients returns every registered client, newest first.
func ListClients(ctx context.Context, pool *pgxpool.Pool) ([]*Client, error) {
	rows, err := pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: query clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// ClientUpdate describes a mutable subset of a client's policy. Fields
// left nil are left unchanged; this is a PATCH, not a PUT replace, so
// an admin updating redirect_uris doesn't have to resend the client's
// entire scope list.
type ClientUpdate struct {
	ClientName             *string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	AllowedZKOrigins       []string
	RequirePKCE            *bool
	ZKDelivery             *string
	ZKRequired             *bool
	AllowedJWEAlgs         []string
	AllowedJWEEncs         []string
	ResponseTypes          []string
	Scopes                 scope.List
	IDTokenLifetimeS       *int
	RefreshTokenLifetimeS  *int
	ZKDEncPublicJWK        json.RawMessage
}

// UpdateClient applies a partial update and returns the resulting row.
// Secret rotation is handled separately by UpdateClientSecret since it
// has its own invariant (only confidential clients ever have one).
func UpdateClient(ctx context.Context, pool *pgxpool.Pool, clientID string, u ClientUpdate) (*Client, error) {
	existing, err := GetClient(ctx, pool, clientID)
	if err != nil {
		return nil, err
	}

	if u.ClientName != nil {
		existing.ClientName = *u.ClientName
	}
	if u.RedirectURIs != nil {
		existing.RedirectURIs = u.RedirectURIs
	}
	if u.PostLogoutRedirectURIs != nil {
		existing.PostLogoutRedirectURIs = u.PostLogoutRedirectURIs
	}
	if u.AllowedZKOrigins != nil {
		existing.AllowedZKOrigins = u.AllowedZKOrigins
	}
	if u.RequirePKCE != nil {
		existing.RequirePKCE = *u.RequirePKCE
	}
	if u.ZKDelivery != nil {
		existing.ZKDelivery = *u.ZKDelivery
	}
	if u.ZKRequired != nil {
		existing.ZKRequired = *u.ZKRequired
	}
	if u.AllowedJWEAlgs != nil {
		existing.AllowedJWEAlgs = u.AllowedJWEAlgs
	}
	if u.AllowedJWEEncs != nil {
		existing.AllowedJWEEncs = u.AllowedJWEEncs
	}
	if u.ResponseTypes != nil {
		existing.ResponseTypes = u.ResponseTypes
	}
	if u.Scopes != nil {
		existing.Scopes = u.Scopes
	}
	if u.IDTokenLifetimeS != nil {
		existing.IDTokenLifetimeS = u.IDTokenLifetimeS
	}
	if u.RefreshTokenLifetimeS != nil {
		existing.RefreshTokenLifetimeS = u.RefreshTokenLifetimeS
	}
	if u.ZKDEncPublicJWK != nil {
		existing.ZKDEncPublicJWK = u.ZKDEncPublicJWK
	}

	if err := existing.ValidatePolicy(); err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx,
		`UPDATE clients SET client_name = $1, require_pkce = $2, zk_delivery = $3, zk_required = $4,
		   allowed_jwe_algs = $5, allowed_jwe_encs = $6, redirect_uris = $7, post_logout_redirect_uris = $8,
		   allowed_zk_origins = $9, response_types = $10, scopes = $11, id_token_lifetime_s = $12,
		   refresh_token_lifetime_s = $13, zkd_enc_public_jwk = $14, updated_at = NOW()
		 WHERE client_id = $15
		 RETURNING `+clientColumns,
		existing.ClientName, existing.RequirePKCE, existing.ZKDelivery, existing.ZKRequired,
		existing.AllowedJWEAlgs, existing.AllowedJWEEncs, existing.RedirectURIs, existing.PostLogoutRedirectURIs,
		existing.AllowedZKOrigins, existing.ResponseTypes, existing.Scopes, existing.IDTokenLifetimeS,
		existing.RefreshTokenLifetimeS, existing.ZKDEncPublicJWK, clientID,
	)
	updated, err := scanClient(row)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateClientSecret replaces a confidential client's AEAD-wrapped
// secret (rotation). Passing a nil enc clears it, which ValidatePolicy
// only allows for a public client or one using token_endpoint_auth
// none.
func UpdateClientSecret(ctx context.Context, pool *pgxpool.Pool, clientID string, enc []byte) error {
	if len(enc) == 0 {
		existing, err := GetClient(ctx, pool, clientID)
		if err != nil {
			return err
		}
		existing.ClientSecretEnc = nil
		if err := existing.ValidatePolicy(); err != nil {
			return err
		}
	}
	tag, err := pool.Exec(ctx,
		`UPDATE clients SET client_secret_enc = $1, updated_at = NOW() WHERE client_id = $2`, enc, clientID)
	if err != nil {
		return fmt.Errorf("storage: update client secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClient removes a client registration.
func DeleteClient(ctx context.Context, pool *pgxpool.Pool, clientID string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("storage: delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
