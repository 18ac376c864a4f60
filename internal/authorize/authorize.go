// Package authorize implements the OAuth 2.1 authorization-code state
// machine: starting a request from client metadata and PKCE challenge,
// and finalizing it once the user has authenticated and approved (or
// denied) the client's request. Zero-Knowledge Delivery of the Data
// Root Key is negotiated here but the DRK JWE itself only ever leaves
// this package through the browser-fragment channel the caller builds
// from FinalizeResult.DRKJWE. It is never logged; the finalize handler
// appends it as a #drk_jwe fragment to the redirectUri it returns in
// its JSON response, the same URI whose query carries Code.
package authorize

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/clientregistry"
	"github.com/darkauth/darkauth/internal/scope"
	"github.com/darkauth/darkauth/internal/storage"
)

var (
	ErrInvalidClient      = errors.New("authorize: unknown client")
	ErrInvalidRedirectURI = errors.New("authorize: redirect_uri not registered for client")
	ErrUnsupportedMethod  = errors.New("authorize: only code_challenge_method=S256 is supported")
	ErrPKCERequired       = errors.New("authorize: code_challenge is required")
	ErrZKPubRequired      = errors.New("authorize: zk_pub is required for this client")
	ErrOriginNotAllowed   = errors.New("authorize: origin is not in the client's allowed_zk_origins")
	ErrNotPending         = errors.New("authorize: request is not pending")
	ErrDRKProofRequired   = errors.New("authorize: drk_hash and drk_jwe are required for zero-knowledge delivery")
	ErrDRKHashMismatch    = errors.New("authorize: drk_hash does not match SHA-256(drk_jwe)")

	codeExpiry = 60 * time.Second
)

// StartInput is the parsed query string of GET /authorize, plus the
// Origin (or, lacking that, Referer) the request carried — only
// consulted when the client has opted into an allowed_zk_origins
// allowlist.
type StartInput struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ZKPub               json.RawMessage
	Origin              string
}

// StartResult is what the UI needs to render the consent screen.
type StartResult struct {
	RequestID  string
	ClientName string
	Scope      string
	HasZK      bool
	ZKPub      json.RawMessage
	State      string
}

// Start validates an incoming authorization request against the client
// registry and PKCE requirements, then persists it pending user
// approval.
func Start(ctx context.Context, pool *pgxpool.Pool, in StartInput) (*StartResult, error) {
	client, err := clientregistry.Get(ctx, pool, in.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !clientregistry.ValidateRedirectURI(client, in.RedirectURI) {
		return nil, ErrInvalidRedirectURI
	}
	if client.RequirePKCE && in.CodeChallenge == "" {
		return nil, ErrPKCERequired
	}
	if in.CodeChallenge != "" && in.CodeChallengeMethod != "S256" {
		return nil, ErrUnsupportedMethod
	}

	hasZK := len(client.ZKDEncPublicJWK) > 0 && len(in.ZKPub) > 0
	if len(client.ZKDEncPublicJWK) > 0 && len(in.ZKPub) == 0 {
		return nil, ErrZKPubRequired
	}
	if len(client.AllowedZKOrigins) > 0 && !clientregistry.ValidateZKOrigin(client, in.Origin) {
		return nil, ErrOriginNotAllowed
	}

	requestID, err := randomID()
	if err != nil {
		return nil, err
	}

	var state, nonce *string
	if in.State != "" {
		state = &in.State
	}
	if in.Nonce != "" {
		nonce = &in.Nonce
	}

	req := &storage.AuthorizeRequest{
		RequestID:           requestID,
		ClientID:            in.ClientID,
		RedirectURI:         in.RedirectURI,
		Scope:               scope.ParseWire(in.Scope),
		State:               state,
		Nonce:               nonce,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		HasZK:               hasZK,
		ZKPub:               in.ZKPub,
	}
	if err := storage.CreateAuthorizeRequest(ctx, pool, req); err != nil {
		return nil, err
	}

	return &StartResult{
		RequestID:  requestID,
		ClientName: client.ClientName,
		Scope:      in.Scope,
		HasZK:      hasZK,
		ZKPub:      in.ZKPub,
		State:      in.State,
	}, nil
}

// FinalizeInput is the body of POST /authorize/finalize.
type FinalizeInput struct {
	RequestID string
	Sub       string
	Approve   bool
	DRKHash   string
	DRKJWE    string
}

// FinalizeResult carries what the UI needs to build the redirect. On
// approval, DRKJWE must be appended to RedirectURI as a URL fragment by
// the caller — never as a query parameter, and never logged.
type FinalizeResult struct {
	RedirectURI string
	Code        string
	State       string
	Denied      bool
	DRKJWE      string
}

// Finalize completes a pending authorization request. Callers must
// have already verified session authentication, MFA completion, and
// that the session's subject matches in.Sub before calling this.
func Finalize(ctx context.Context, pool *pgxpool.Pool, in FinalizeInput) (*FinalizeResult, error) {
	req, err := storage.GetAuthorizeRequest(ctx, pool, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != storage.AuthorizeStatusPending {
		return nil, ErrNotPending
	}
	if time.Now().After(req.ExpiresAt) {
		return nil, ErrNotPending
	}

	state := ""
	if req.State != nil {
		state = *req.State
	}

	if !in.Approve {
		if err := storage.DenyRequest(ctx, pool, in.RequestID, in.Sub); err != nil {
			return nil, err
		}
		return &FinalizeResult{RedirectURI: req.RedirectURI, State: state, Denied: true}, nil
	}

	var drkHashPtr, drkJWEPtr *string
	if req.HasZK {
		if in.DRKHash == "" || in.DRKJWE == "" {
			return nil, ErrDRKProofRequired
		}
		sum := sha256.Sum256([]byte(in.DRKJWE))
		expected := base64.RawURLEncoding.EncodeToString(sum[:])
		if expected != in.DRKHash {
			return nil, ErrDRKHashMismatch
		}
		drkHashPtr = &in.DRKHash
		drkJWEPtr = &in.DRKJWE
	}

	code, err := randomID()
	if err != nil {
		return nil, err
	}
	codeExpiresAt := time.Now().Add(codeExpiry)

	if err := storage.FinalizeApproved(ctx, pool, in.RequestID, in.Sub, code, codeExpiresAt, drkHashPtr, drkJWEPtr); err != nil {
		return nil, err
	}

	return &FinalizeResult{
		RedirectURI: req.RedirectURI,
		Code:        code,
		State:       state,
		DRKJWE:      in.DRKJWE,
	}, nil
}

// randomID generates a 256-bit random, URL-safe identifier, comfortably
// exceeding the spec's 128-bit minimum for authorization codes.
func randomID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authorize: generating random id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
