package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/otp"
)

// PutOTPConfig upserts a user's OTP enrollment, persisting the TOTP
// secret and backup-code hashes so they survive a server restart (a
// in-memory-only store would silently disable every enrolled factor on
// deploy).
func PutOTPConfig(ctx context.Context, pool *pgxpool.Pool, sub string, secret *otp.Secret, enabled bool) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO otp_configs (sub, base32_key, backup_code_hashes, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sub) DO UPDATE SET
		   base32_key = EXCLUDED.base32_key,
		   backup_code_hashes = EXCLUDED.backup_code_hashes,
		   enabled = EXCLUDED.enabled,
		   updated_at = NOW()`,
		sub, secret.Base32Key, secret.BackupCodeHashes, enabled,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert otp config: %w", err)
	}
	return nil
}

// GetOTPConfig retrieves a user's OTP enrollment and whether it is active.
func GetOTPConfig(ctx context.Context, pool *pgxpool.Pool, sub string) (secret *otp.Secret, enabled bool, err error) {
	var s otp.Secret
	err = pool.QueryRow(ctx,
		`SELECT base32_key, backup_code_hashes, enabled FROM otp_configs WHERE sub = $1`, sub,
	).Scan(&s.Base32Key, &s.BackupCodeHashes, &enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: query otp config: %w", err)
	}
	return &s, enabled, nil
}

// DeleteOTPConfig removes a user's OTP enrollment (disabling MFA).
func DeleteOTPConfig(ctx context.Context, pool *pgxpool.Pool, sub string) error {
	_, err := pool.Exec(ctx, `DELETE FROM otp_configs WHERE sub = $1`, sub)
	if err != nil {
		return fmt.Errorf("storage: delete otp config: %w", err)
	}
	return nil
}
