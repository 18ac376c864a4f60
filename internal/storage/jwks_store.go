package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/jwks"
)

// PutJWKSEntry persists a new or updated signing-key lifecycle row.
func PutJWKSEntry(ctx context.Context, pool *pgxpool.Pool, e *jwks.Entry) error {
	publicJWKBytes, err := json.Marshal(e.PublicJWK)
	if err != nil {
		return fmt.Errorf("storage: marshal public jwk: %w", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO jwks (kid, alg, private_jwk, public_jwk, created_at, rotated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (kid) DO UPDATE SET rotated_at = EXCLUDED.rotated_at`,
		e.KID, string(e.Alg), e.PrivateJWK, publicJWKBytes, e.CreatedAt, e.RotatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert jwks entry: %w", err)
	}
	return nil
}

// MarkJWKSRotated stamps rotated_at on every currently-unrotated entry,
// used by jwks.Store.Rotate's persistence step.
func MarkJWKSRotated(ctx context.Context, pool *pgxpool.Pool, now time.Time) error {
	_, err := pool.Exec(ctx, `UPDATE jwks SET rotated_at = $1 WHERE rotated_at IS NULL`, now)
	if err != nil {
		return fmt.Errorf("storage: mark jwks rotated: %w", err)
	}
	return nil
}

// LoadJWKSEntries reads every signing-key lifecycle row back, e.g. at
// boot so jwks.Store.Load can restore in-memory state.
func LoadJWKSEntries(ctx context.Context, pool *pgxpool.Pool) ([]*jwks.Entry, error) {
	rows, err := pool.Query(ctx, `SELECT kid, alg, private_jwk, public_jwk, created_at, rotated_at FROM jwks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: query jwks entries: %w", err)
	}
	defer rows.Close()

	var entries []*jwks.Entry
	for rows.Next() {
		var e jwks.Entry
		var alg string
		var publicJWKBytes []byte
		if err := rows.Scan(&e.KID, &alg, &e.PrivateJWK, &publicJWKBytes, &e.CreatedAt, &e.RotatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan jwks entry: %w", err)
		}
		e.Alg = jwks.Alg(alg)
		var pub jose.JSONWebKey
		if err := json.Unmarshal(publicJWKBytes, &pub); err != nil {
			return nil, fmt.Errorf("storage: unmarshal public jwk: %w", err)
		}
		e.PublicJWK = pub
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
