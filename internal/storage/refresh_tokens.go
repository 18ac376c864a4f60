// Refresh-token persistence. Grounded on the teacher's in-memory
// TokenRevocationStore (RevokeToken/IsRevoked/RevokeAllForUser idiom),
// but backed by Postgres: a refresh token must remain usable, and a
// revocation must remain effective, across a server restart.
package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/scope"
)

// HashRefreshToken returns the SHA-256 digest stored in place of the
// opaque refresh token value itself, so a database read alone never
// discloses a usable token.
func HashRefreshToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// CreateRefreshToken persists a newly issued refresh token.
func CreateRefreshToken(ctx context.Context, pool *pgxpool.Pool, token, sub, clientID string, scopes scope.List, expiresAt time.Time) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, sub, client_id, scope, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		HashRefreshToken(token), sub, clientID, scopes, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert refresh token: %w", err)
	}
	return nil
}

// RefreshTokenRow is what a refresh-token lookup resolves to.
type RefreshTokenRow struct {
	Sub       string
	ClientID  string
	Scope     scope.List
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// GetRefreshToken looks up a refresh token by its plaintext value,
// returning ErrNotFound if it is absent, expired, or revoked.
func GetRefreshToken(ctx context.Context, pool *pgxpool.Pool, token string) (*RefreshTokenRow, error) {
	var row RefreshTokenRow
	err := pool.QueryRow(ctx,
		`SELECT sub, client_id, scope, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = $1`,
		HashRefreshToken(token),
	).Scan(&row.Sub, &row.ClientID, &row.Scope, &row.ExpiresAt, &row.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query refresh token: %w", err)
	}
	if row.RevokedAt != nil || time.Now().After(row.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &row, nil
}

// RevokeRefreshToken revokes a single refresh token; the token endpoint
// calls it on rotation at each refresh_token grant exchange.
func RevokeRefreshToken(ctx context.Context, pool *pgxpool.Pool, token string) error {
	_, err := pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`,
		HashRefreshToken(token),
	)
	if err != nil {
		return fmt.Errorf("storage: revoke refresh token: %w", err)
	}
	return nil
}

// ListAuthorizedClientIDsForUser returns the distinct clients sub has
// at least one live (unrevoked, unexpired) refresh token against, used
// to render the "apps you've connected" dashboard view.
func ListAuthorizedClientIDsForUser(ctx context.Context, pool *pgxpool.Pool, sub string) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT DISTINCT client_id FROM refresh_tokens
		 WHERE sub = $1 AND revoked_at IS NULL AND expires_at > NOW()`, sub)
	if err != nil {
		return nil, fmt.Errorf("storage: query authorized clients: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan authorized client id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RevokeAllRefreshTokensForUser revokes every outstanding refresh token
// for sub, used when a user changes their OPAQUE password (a new
// export_key invalidates the DRK wrap for every other session) and by
// the token endpoint when an authorization code is replayed.
func RevokeAllRefreshTokensForUser(ctx context.Context, pool *pgxpool.Pool, sub string) error {
	_, err := pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = NOW() WHERE sub = $1 AND revoked_at IS NULL`, sub)
	if err != nil {
		return fmt.Errorf("storage: revoke all refresh tokens for user: %w", err)
	}
	return nil
}
