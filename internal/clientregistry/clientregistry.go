// Package clientregistry manages OAuth 2.1 relying-party registration:
// confidential and public clients, redirect URI allowlists, PKCE and
// Zero-Knowledge Delivery policy, and the per-client scope vocabulary
// shown on the consent screen. Client-facing text fields are sanitized
// with bluemonday's strict policy before they are ever persisted,
// since client_name is later rendered on an admin console and consent
// screen.
package clientregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/microcosm-cc/bluemonday"

	"github.com/darkauth/darkauth/internal/auth"
	"github.com/darkauth/darkauth/internal/scope"
	"github.com/darkauth/darkauth/internal/storage"
)

var (
	ErrInvalidRedirectURI = errors.New("clientregistry: invalid redirect uri")
	ErrNoRedirectURIs     = errors.New("clientregistry: at least one redirect uri is required")
	ErrNoSecret           = errors.New("clientregistry: client has no secret (public client)")
)

var sanitizer = bluemonday.StrictPolicy()

var (
	defaultGrantTypes    = []string{"authorization_code", "refresh_token"}
	defaultResponseTypes = []string{"code"}
)

// RegisterInput is what the admin API's client-creation endpoint accepts.
type RegisterInput struct {
	ClientName             string
	IsPublic               bool
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	AllowedZKOrigins       []string
	RequirePKCE            *bool // nil defaults to true
	ZKDEncPublicJWK        json.RawMessage
	ZKRequired             *bool // nil defaults to ZKDEncPublicJWK being present
	AllowedJWEAlgs         []string
	AllowedJWEEncs         []string
	ResponseTypes          []string
	Scopes                 json.RawMessage // heterogeneous: bare strings or {key,description} objects
	IDTokenLifetimeS       *int
	RefreshTokenLifetimeS  *int
}

// RegisterResult carries the plaintext client secret, returned exactly
// once at creation time — a confidential client's secret is otherwise
// only ever recoverable by an admin with KeK access, never shown again
// by the registry itself.
type RegisterResult struct {
	Client       *storage.Client
	ClientSecret string // empty for public clients
}

func cleanRedirectURIs(raw []string, allowEmpty bool) ([]string, error) {
	if len(raw) == 0 {
		if allowEmpty {
			return nil, nil
		}
		return nil, ErrNoRedirectURIs
	}
	cleaned := make([]string, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(r)
		if err != nil || u.Scheme == "" || u.Host == "" || u.Fragment != "" {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRedirectURI, r)
		}
		cleaned = append(cleaned, u.String())
	}
	return cleaned, nil
}

func buildPolicy(input RegisterInput) (*storage.Client, error) {
	redirectURIs, err := cleanRedirectURIs(input.RedirectURIs, false)
	if err != nil {
		return nil, err
	}
	postLogoutURIs, err := cleanRedirectURIs(input.PostLogoutRedirectURIs, true)
	if err != nil {
		return nil, err
	}

	scopes, err := scope.ParseJSON(input.Scopes)
	if err != nil {
		return nil, err
	}

	requirePKCE := true
	if input.RequirePKCE != nil {
		requirePKCE = *input.RequirePKCE
	}

	zkDelivery := storage.ZKDeliveryNone
	if len(input.ZKDEncPublicJWK) > 0 {
		zkDelivery = storage.ZKDeliveryFragmentJWE
	}
	zkRequired := len(input.ZKDEncPublicJWK) > 0
	if input.ZKRequired != nil {
		zkRequired = *input.ZKRequired
	}

	responseTypes := input.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}

	authMethod := storage.TokenEndpointAuthClientSecret
	if input.IsPublic {
		authMethod = storage.TokenEndpointAuthNone
	}

	return &storage.Client{
		ClientID:                "dac_" + uuid.NewString(),
		ClientName:              sanitizer.Sanitize(input.ClientName),
		IsPublic:                input.IsPublic,
		TokenEndpointAuthMethod: authMethod,
		RequirePKCE:             requirePKCE,
		ZKDelivery:              zkDelivery,
		ZKRequired:              zkRequired,
		AllowedJWEAlgs:          input.AllowedJWEAlgs,
		AllowedJWEEncs:          input.AllowedJWEEncs,
		RedirectURIs:            redirectURIs,
		PostLogoutRedirectURIs:  postLogoutURIs,
		AllowedZKOrigins:        input.AllowedZKOrigins,
		GrantTypes:              defaultGrantTypes,
		ResponseTypes:           responseTypes,
		Scopes:                  scopes,
		IDTokenLifetimeS:        input.IDTokenLifetimeS,
		RefreshTokenLifetimeS:   input.RefreshTokenLifetimeS,
		ZKDEncPublicJWK:         input.ZKDEncPublicJWK,
	}, nil
}

// Register validates input, assigns a client_id, generates a secret
// for confidential clients, and persists the registration.
func Register(ctx context.Context, pool *pgxpool.Pool, input RegisterInput) (*RegisterResult, error) {
	client, err := buildPolicy(input)
	if err != nil {
		return nil, err
	}

	var plaintextSecret string
	if !input.IsPublic {
		secret, err := auth.GenerateClientSecret()
		if err != nil {
			return nil, fmt.Errorf("clientregistry: generate secret: %w", err)
		}
		enc, err := auth.EncryptClientSecret(client.ClientID, secret)
		if err != nil {
			return nil, fmt.Errorf("clientregistry: encrypt secret: %w", err)
		}
		client.ClientSecretEnc = enc
		plaintextSecret = secret
	}

	created, err := storage.CreateClient(ctx, pool, client)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Client: created, ClientSecret: plaintextSecret}, nil
}

// Get returns a single client by ID.
func Get(ctx context.Context, pool *pgxpool.Pool, clientID string) (*storage.Client, error) {
	return storage.GetClient(ctx, pool, clientID)
}

// List returns every registered client.
func List(ctx context.Context, pool *pgxpool.Pool) ([]*storage.Client, error) {
	return storage.ListClients(ctx, pool)
}

// UpdateInput is a partial update to an existing client's policy. A
// nil/empty field leaves the corresponding column unchanged.
type UpdateInput struct {
	ClientName             *string
	RedirectURIs           []string
	PostLogoutRedirectURIs []string
	AllowedZKOrigins       []string
	RequirePKCE            *bool
	ZKDEncPublicJWK        json.RawMessage
	ZKDelivery             *string
	ZKRequired             *bool
	AllowedJWEAlgs         []string
	AllowedJWEEncs         []string
	ResponseTypes          []string
	Scopes                 json.RawMessage
	IDTokenLifetimeS       *int
	RefreshTokenLifetimeS  *int
}

// Update applies a partial policy change to an existing client, e.g.
// adjusting its redirect URI allowlist or its ZKD/PKCE requirements.
// Secret rotation goes through RotateSecret instead, since it has its
// own plaintext-once-return contract.
func Update(ctx context.Context, pool *pgxpool.Pool, clientID string, input UpdateInput) (*storage.Client, error) {
	u := storage.ClientUpdate{
		ClientName:            input.ClientName,
		AllowedZKOrigins:      input.AllowedZKOrigins,
		RequirePKCE:           input.RequirePKCE,
		ZKDelivery:            input.ZKDelivery,
		ZKRequired:            input.ZKRequired,
		AllowedJWEAlgs:        input.AllowedJWEAlgs,
		AllowedJWEEncs:        input.AllowedJWEEncs,
		ResponseTypes:         input.ResponseTypes,
		IDTokenLifetimeS:      input.IDTokenLifetimeS,
		RefreshTokenLifetimeS: input.RefreshTokenLifetimeS,
		ZKDEncPublicJWK:       input.ZKDEncPublicJWK,
	}

	if input.RedirectURIs != nil {
		cleaned, err := cleanRedirectURIs(input.RedirectURIs, false)
		if err != nil {
			return nil, err
		}
		u.RedirectURIs = cleaned
	}
	if input.PostLogoutRedirectURIs != nil {
		cleaned, err := cleanRedirectURIs(input.PostLogoutRedirectURIs, true)
		if err != nil {
			return nil, err
		}
		u.PostLogoutRedirectURIs = cleaned
	}
	if input.Scopes != nil {
		scopes, err := scope.ParseJSON(input.Scopes)
		if err != nil {
			return nil, err
		}
		u.Scopes = scopes
	}

	return storage.UpdateClient(ctx, pool, clientID, u)
}

// RotateSecret generates and persists a new AEAD-wrapped secret for a
// confidential client, returning the plaintext once.
func RotateSecret(ctx context.Context, pool *pgxpool.Pool, clientID string) (string, error) {
	client, err := storage.GetClient(ctx, pool, clientID)
	if err != nil {
		return "", err
	}
	if client.IsPublic {
		return "", ErrNoSecret
	}
	secret, err := auth.GenerateClientSecret()
	if err != nil {
		return "", fmt.Errorf("clientregistry: generate secret: %w", err)
	}
	enc, err := auth.EncryptClientSecret(clientID, secret)
	if err != nil {
		return "", fmt.Errorf("clientregistry: encrypt secret: %w", err)
	}
	if err := storage.UpdateClientSecret(ctx, pool, clientID, enc); err != nil {
		return "", err
	}
	return secret, nil
}

// Deregister removes a client registration entirely.
func Deregister(ctx context.Context, pool *pgxpool.Pool, clientID string) error {
	return storage.DeleteClient(ctx, pool, clientID)
}

// Authenticate verifies a confidential client's presented secret
// against its AEAD-wrapped ciphertext. Public clients never
// authenticate this way (they rely on PKCE).
func Authenticate(ctx context.Context, pool *pgxpool.Pool, clientID, clientSecret string) (*storage.Client, error) {
	client, err := storage.GetClient(ctx, pool, clientID)
	if err != nil {
		return nil, err
	}
	if client.IsPublic {
		return nil, ErrNoSecret
	}
	if !auth.VerifyClientSecret(clientID, clientSecret, client.ClientSecretEnc) {
		return nil, storage.ErrNotFound
	}
	return client, nil
}

// ValidateRedirectURI checks redirectURI against the client's registered
// allowlist using an exact string match, per OAuth 2.1's removal of
// partial/pattern matching.
func ValidateRedirectURI(client *storage.Client, redirectURI string) bool {
	for _, u := range client.RedirectURIs {
		if u == redirectURI {
			return true
		}
	}
	return false
}

// ValidateZKOrigin checks origin against the client's allowed_zk_origins
// allowlist, using an exact match against the scheme+host+port Origin
// header value (never a prefix or wildcard match, matching
// ValidateRedirectURI's posture).
func ValidateZKOrigin(client *storage.Client, origin string) bool {
	for _, o := range client.AllowedZKOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
