package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PutOpaqueRecord upserts the KeK-wrapped OPAQUE record blob for sub.
func PutOpaqueRecord(ctx context.Context, pool *pgxpool.Pool, sub string, envelopeCiphertext []byte) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO opaque_records (sub, envelope_ciphertext) VALUES ($1, $2)
		 ON CONFLICT (sub) DO UPDATE SET envelope_ciphertext = EXCLUDED.envelope_ciphertext, updated_at = NOW()`,
		sub, envelopeCiphertext,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert opaque record: %w", err)
	}
	return nil
}

// GetOpaqueRecord retrieves the KeK-wrapped OPAQUE record blob for sub.
func GetOpaqueRecord(ctx context.Context, pool *pgxpool.Pool, sub string) ([]byte, error) {
	var blob []byte
	err := pool.QueryRow(ctx,
		`SELECT envelope_ciphertext FROM opaque_records WHERE sub = $1`, sub,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: query opaque record: %w", err)
	}
	return blob, nil
}
