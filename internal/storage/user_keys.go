package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserKeyMaterial is the server's opaque view of a user's client-side
// key schedule: wrapped_drk and wrapped_enc_private_jwk are meaningless
// without keys the server never holds.
type UserKeyMaterial struct {
	Sub                  string
	WrappedDRK           []byte
	EncPublicJWK         json.RawMessage
	WrappedEncPrivateJWK []byte
}

// PutUserKeyMaterial upserts a user's key material, set once at
// registration and replaced whenever the user changes their password
// (which re-wraps the DRK under a new KW, per the client-side key
// schedule's password-change recovery path).
func PutUserKeyMaterial(ctx context.Context, pool *pgxpool.Pool, m UserKeyMaterial) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO user_key_material (sub, wrapped_drk, enc_public_jwk, wrapped_enc_private_jwk)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sub) DO UPDATE SET
		   wrapped_drk = EXCLUDED.wrapped_drk,
		   enc_public_jwk = EXCLUDED.enc_public_jwk,
		   wrapped_enc_private_jwk = EXCLUDED.wrapped_enc_private_jwk,
		   updated_at = NOW()`,
		m.Sub, m.WrappedDRK, m.EncPublicJWK, m.WrappedEncPrivateJWK,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert user key material: %w", err)
	}
	return nil
}

// GetUserKeyMaterial retrieves a user's key material.
func GetUserKeyMaterial(ctx context.Context, pool *pgxpool.Pool, sub string) (*UserKeyMaterial, error) {
	var m UserKeyMaterial
	m.Sub = sub
	err := pool.QueryRow(ctx,
		`SELECT wrapped_drk, enc_public_jwk, wrapped_enc_private_jwk FROM user_key_material WHERE sub = $1`, sub,
	).Scan(&m.WrappedDRK, &m.EncPublicJWK, &m.WrappedEncPrivateJWK)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query user key material: %w", err)
	}
	return &m, nil
}
