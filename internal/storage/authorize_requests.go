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

// AuthorizeRequest is one OAuth 2.1 authorization attempt: created when
// /authorize is first hit, updated with sub once the user completes
// OPAQUE login (+ MFA if enrolled), and finally stamped with a
// single-use code at /authorize/finalize. The stored drk_jwe is never
// read back; the token endpoint's ID-token claim uses only drk_hash.
type AuthorizeRequest struct {
	RequestID           string
	ClientID            string
	Sub                 *string
	RedirectURI         string
	Scope               scope.List
	State               *string
	Nonce               *string
	CodeChallenge       string
	CodeChallengeMethod string
	HasZK               bool
	ZKPub               json.RawMessage
	Status              string
	Code                *string
	CodeExpiresAt       *time.Time
	CodeUsedAt          *time.Time
	DRKHash             *string
	DRKJWE              *string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

const (
	AuthorizeStatusPending   = "pending"
	AuthorizeStatusFinalized = "finalized"
	AuthorizeStatusDenied    = "denied"
	AuthorizeStatusExpired   = "expired"
)

// CreateAuthorizeRequest records a new pending authorization request,
// expiring 300s from now per the start-of-flow timeout.
func CreateAuthorizeRequest(ctx context.Context, pool *pgxpool.Pool, r *AuthorizeRequest) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO authorize_requests
		   (request_id, client_id, redirect_uri, scope, state, nonce, code_challenge, code_challenge_method, has_zk, zk_pub, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW() + INTERVAL '300 seconds')`,
		r.RequestID, r.ClientID, r.RedirectURI, r.Scope, r.State, r.Nonce, r.CodeChallenge, r.CodeChallengeMethod, r.HasZK, r.ZKPub, AuthorizeStatusPending,
	)
	if err != nil {
		return fmt.Errorf("storage: insert authorize request: %w", err)
	}
	return nil
}

func scanAuthorizeRequest(row pgx.Row) (*AuthorizeRequest, error) {
	var r AuthorizeRequest
	err := row.Scan(&r.RequestID, &r.ClientID, &r.Sub, &r.RedirectURI, &r.Scope, &r.State, &r.Nonce,
		&r.CodeChallenge, &r.CodeChallengeMethod, &r.HasZK, &r.ZKPub, &r.Status, &r.Code, &r.CodeExpiresAt,
		&r.CodeUsedAt, &r.DRKHash, &r.DRKJWE, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan authorize request: %w", err)
	}
	return &r, nil
}

const authorizeRequestColumns = `request_id, client_id, sub, redirect_uri, scope, state, nonce,
	code_challenge, code_challenge_method, has_zk, zk_pub, status, code, code_expires_at,
	code_used_at, drk_hash, drk_jwe, expires_at, created_at`

// GetAuthorizeRequest retrieves a request by ID.
func GetAuthorizeRequest(ctx context.Context, pool *pgxpool.Pool, requestID string) (*AuthorizeRequest, error) {
	row := pool.QueryRow(ctx, `SELECT `+authorizeRequestColumns+` FROM authorize_requests WHERE request_id = $1`, requestID)
	return scanAuthorizeRequest(row)
}

// FinalizeApproved transitions a pending request to finalized, binding
// the authenticated subject, a single-use code, and (for ZK clients)
// the drk_hash/drk_jwe pair. The WHERE clause's status=pending check
// makes a second finalize on the same request a no-op row update,
// serializing concurrent finalize calls on one request_id.
func FinalizeApproved(ctx context.Context, pool *pgxpool.Pool, requestID, sub, code string, codeExpiresAt time.Time, drkHash, drkJWE *string) error {
	tag, err := pool.Exec(ctx,
		`UPDATE authorize_requests
		 SET sub = $1, status = $2, code = $3, code_expires_at = $4, drk_hash = $5, drk_jwe = $6
		 WHERE request_id = $7 AND status = $8 AND expires_at > NOW()`,
		sub, AuthorizeStatusFinalized, code, codeExpiresAt, drkHash, drkJWE, requestID, AuthorizeStatusPending,
	)
	if err != nil {
		return fmt.Errorf("storage: finalize authorize request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// DenyRequest transitions a pending request to denied.
func DenyRequest(ctx context.Context, pool *pgxpool.Pool, requestID, sub string) error {
	tag, err := pool.Exec(ctx,
		`UPDATE authorize_requests SET sub = $1, status = $2 WHERE request_id = $3 AND status = $4`,
		sub, AuthorizeStatusDenied, requestID, AuthorizeStatusPending,
	)
	if err != nil {
		return fmt.Errorf("storage: deny authorize request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ConsumeAuthorizationCode atomically reads and invalidates a code so
// the token endpoint's code exchange is single-use. A second redemption
// of the same code is rejected because code_used_at is already set;
// the caller is expected to additionally revoke any tokens already
// derived from this code when that happens (spec-mandated replay
// response).
func ConsumeAuthorizationCode(ctx context.Context, pool *pgxpool.Pool, code string) (*AuthorizeRequest, error) {
	row := pool.QueryRow(ctx,
		`UPDATE authorize_requests SET code_used_at = NOW()
		 WHERE code = $1 AND status = $2 AND code_used_at IS NULL
		 RETURNING `+authorizeRequestColumns,
		code, AuthorizeStatusFinalized,
	)
	r, err := scanAuthorizeRequest(row)
	if err != nil {
		return nil, err
	}
	if r.CodeExpiresAt != nil && time.Now().After(*r.CodeExpiresAt) {
		return nil, ErrNotFound
	}
	return r, nil
}

// FindReplayedCodeSub reports the subject of a code that has already
// been consumed, so the token endpoint can revoke every token derived
// from its first redemption. Returns ("", false, nil) if the code was
// never issued or has not yet been used.
func FindReplayedCodeSub(ctx context.Context, pool *pgxpool.Pool, code string) (string, bool, error) {
	var sub *string
	var usedAt *time.Time
	err := pool.QueryRow(ctx, `SELECT sub, code_used_at FROM authorize_requests WHERE code = $1`, code).Scan(&sub, &usedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: query code replay: %w", err)
	}
	if usedAt == nil || sub == nil {
		return "", false, nil
	}
	return *sub, true, nil
}
