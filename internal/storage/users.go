package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is a DarkAuth account. sub is the stable OIDC subject identifier
// (opaque to relying parties), generated at registration time rather
// than derived from email so an email change never reassigns sub.
type User struct {
	Sub                   string    `json:"sub"`
	Email                 string    `json:"email"`
	EmailVerified         bool      `json:"email_verified"`
	PasswordResetRequired bool      `json:"password_reset_required"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

const userColumns = "sub, email, email_verified, password_reset_required, created_at, updated_at"

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.Sub, &u.Email, &u.EmailVerified, &u.PasswordResetRequired, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. Returns ErrConflict if the email
// is already registered.
func CreateUser(ctx context.Context, pool *pgxpool.Pool, sub, email string) (*User, error) {
	row := pool.QueryRow(ctx,
		`INSERT INTO users (sub, email) VALUES ($1, $2) RETURNING `+userColumns,
		sub, email,
	)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("storage: insert user: %w", err)
	}
	return u, nil
}

// GetUserBySub retrieves a user by subject identifier.
func GetUserBySub(ctx context.Context, pool *pgxpool.Pool, sub string) (*User, error) {
	row := pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE sub = $1`, sub)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("storage: query user by sub: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email address.
func GetUserByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (*User, error) {
	row := pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("storage: query user by email: %w", err)
	}
	return u, nil
}

// SetEmailVerified marks the user's email as verified.
func SetEmailVerified(ctx context.Context, pool *pgxpool.Pool, sub string) error {
	tag, err := pool.Exec(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE sub = $1`, sub)
	if err != nil {
		return fmt.Errorf("storage: mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns every account, newest first, for the admin
// console's user listing. limit caps the page size; callers pass 0 for
// the default of 100.
func ListUsers(ctx context.Context, pool *pgxpool.Pool, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate user rows: %w", err)
	}
	return users, nil
}

// SetPasswordResetRequired flips the password_reset_required flag,
// forcing (true) or clearing (false) the "must change password before
// anything else" gate checked at /authorize/finalize.
func SetPasswordResetRequired(ctx context.Context, pool *pgxpool.Pool, sub string, required bool) error {
	tag, err := pool.Exec(ctx,
		`UPDATE users SET password_reset_required = $2, updated_at = NOW() WHERE sub = $1`, sub, required)
	if err != nil {
		return fmt.Errorf("storage: set password reset required: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
