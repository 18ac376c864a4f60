// Package token implements the OAuth 2.1 token endpoint:
// authorization_code exchange with mandatory PKCE verification, and
// refresh_token rotation. drk_jwe is never read here: the ID token's
// drk_hash claim comes from the drk_hash stored at finalize, so no
// token response can carry the JWE.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/clientregistry"
	"github.com/darkauth/darkauth/internal/jwks"
	"github.com/darkauth/darkauth/internal/scope"
	"github.com/darkauth/darkauth/internal/storage"
)

var (
	ErrUnsupportedGrant = errors.New("token: unsupported grant_type")
	ErrInvalidGrant     = errors.New("token: invalid or expired grant")
	ErrInvalidClient    = errors.New("token: client authentication failed")
	ErrRedirectMismatch = errors.New("token: redirect_uri does not match authorization request")
	ErrPKCEMismatch     = errors.New("token: code_verifier does not match code_challenge")
	ErrCodeReplayed     = errors.New("token: authorization code already redeemed; derived tokens revoked")
	ErrClientIDMismatch = errors.New("token: client_id does not match authorization request")
)

// DefaultAccessTTL and DefaultRefreshTTL apply when Config leaves the
// corresponding field zero.
const (
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Config parameterizes claim and lifetime choices that are
// deployment-specific rather than part of the protocol itself.
type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	return c
}

// Request is the parsed, grant-agnostic body of POST /token.
type Request struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// Response is the JSON body returned to the client on success.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

// Exchange dispatches to the authorization_code or refresh_token grant.
func Exchange(ctx context.Context, pool *pgxpool.Pool, keys *jwks.Store, cfg Config, req Request) (*Response, error) {
	cfg = cfg.withDefaults()
	switch req.GrantType {
	case "authorization_code":
		return exchangeCode(ctx, pool, keys, cfg, req)
	case "refresh_token":
		return exchangeRefreshToken(ctx, pool, keys, cfg, req)
	default:
		return nil, ErrUnsupportedGrant
	}
}

func authenticateClient(ctx context.Context, pool *pgxpool.Pool, req Request) (*storage.Client, error) {
	client, err := clientregistry.Get(ctx, pool, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if client.IsPublic {
		return client, nil
	}
	authenticated, err := clientregistry.Authenticate(ctx, pool, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, ErrInvalidClient
	}
	return authenticated, nil
}

func exchangeCode(ctx context.Context, pool *pgxpool.Pool, keys *jwks.Store, cfg Config, req Request) (*Response, error) {
	client, err := authenticateClient(ctx, pool, req)
	if err != nil {
		return nil, err
	}

	authReq, err := storage.ConsumeAuthorizationCode(ctx, pool, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if sub, replayed, rErr := storage.FindReplayedCodeSub(ctx, pool, req.Code); rErr == nil && replayed {
				_ = storage.RevokeAllRefreshTokensForUser(ctx, pool, sub)
				return nil, ErrCodeReplayed
			}
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	if authReq.ClientID != client.ClientID {
		return nil, ErrClientIDMismatch
	}
	if authReq.RedirectURI != req.RedirectURI {
		return nil, ErrRedirectMismatch
	}
	if authReq.Sub == nil {
		return nil, ErrInvalidGrant
	}
	if !verifyPKCE(authReq.CodeChallenge, req.CodeVerifier) {
		return nil, ErrPKCEMismatch
	}

	return issueTokens(ctx, pool, keys, cfg, *authReq.Sub, client, authReq.Scope, authReq.Nonce, authReq.DRKHash)
}

func exchangeRefreshToken(ctx context.Context, pool *pgxpool.Pool, keys *jwks.Store, cfg Config, req Request) (*Response, error) {
	client, err := authenticateClient(ctx, pool, req)
	if err != nil {
		return nil, err
	}

	row, err := storage.GetRefreshToken(ctx, pool, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	if row.ClientID != client.ClientID {
		return nil, ErrClientIDMismatch
	}

	// Rotate: the presented refresh token is single-use.
	if err := storage.RevokeRefreshToken(ctx, pool, req.RefreshToken); err != nil {
		return nil, err
	}

	return issueTokens(ctx, pool, keys, cfg, row.Sub, client, row.Scope, nil, nil)
}

func issueTokens(ctx context.Context, pool *pgxpool.Pool, keys *jwks.Store, cfg Config, sub string, client *storage.Client, scopes scope.List, nonce, drkHash *string) (*Response, error) {
	now := time.Now()
	claims := map[string]any{
		"iss": cfg.Issuer,
		"sub": sub,
		"aud": client.ClientID,
		"exp": now.Add(cfg.AccessTTL).Unix(),
		"iat": now.Unix(),
	}
	if nonce != nil && *nonce != "" {
		claims["nonce"] = *nonce
	}
	if drkHash != nil {
		claims["drk_hash"] = *drkHash
	}

	idToken, _, err := keys.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("token: signing id_token: %w", err)
	}

	accessToken, err := randomToken()
	if err != nil {
		return nil, err
	}

	resp := &Response{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(cfg.AccessTTL.Seconds()),
		IDToken:     idToken,
		Scope:       scopes.String(),
	}

	if scopes.Has("offline_access") {
		refreshToken, err := randomToken()
		if err != nil {
			return nil, err
		}
		if err := storage.CreateRefreshToken(ctx, pool, refreshToken, sub, client.ClientID, scopes, now.Add(cfg.RefreshTTL)); err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshToken
	}

	return resp, nil
}

// verifyPKCE checks a plaintext verifier against a stored S256
// challenge: challenge = base64url(SHA-256(verifier)), no padding.
func verifyPKCE(challenge, verifier string) bool {
	if verifier == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generating random token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
