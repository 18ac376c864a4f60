// Package storage provides Postgres-backed persistence for DarkAuth:
// users, OPAQUE records, JWKS signing keys, the client registry, OTP
// enrollments, authorize requests, refresh tokens, and the audit log.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB is the global database connection pool, initialized via InitDB and
// closed via CloseDB during graceful shutdown.
var DB *pgxpool.Pool

// InitDB initializes the database connection pool using postgresURL
// (the caller passes config.PostgresURI(), DarkAuth's own config
// singleton already having resolved it from the environment or a
// config-file overlay).
func InitDB(ctx context.Context, postgresURL string) error {
	if postgresURL == "" {
		return fmt.Errorf("storage: postgres URL is empty")
	}

	cfg, err := pgxpool.ParseConfig(postgresURL)
	if err != nil {
		return fmt.Errorf("storage: parse database URL: %w", err)
	}

	profMaxConns, profMinConns := poolProfileDefaults(os.Getenv("DARKAUTH_DB_POOL_PROFILE"))
	cfg.MaxConns = int32(envInt("DARKAUTH_DB_MAX_CONNS", profMaxConns))
	cfg.MinConns = int32(envInt("DARKAUTH_DB_MIN_CONNS", profMinConns))
	cfg.MaxConnLifetime = time.Duration(envInt("DARKAUTH_DB_MAX_CONN_LIFETIME_MINUTES", 60)) * time.Minute
	cfg.MaxConnIdleTime = time.Duration(envInt("DARKAUTH_DB_MAX_CONN_IDLE_MINUTES", 30)) * time.Minute
	cfg.HealthCheckPeriod = time.Duration(envInt("DARKAUTH_DB_HEALTH_CHECK_SECONDS", 60)) * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("storage: ping database: %w", err)
	}

	DB = pool
	log.Info().
		Str("host", cfg.ConnConfig.Host).
		Uint16("port", cfg.ConnConfig.Port).
		Str("database", cfg.ConnConfig.Database).
		Int32("max_conns", cfg.MaxConns).
		Msg("storage: database connection pool initialized")

	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		DB.Close()
		log.Info().Msg("storage: database connection pool closed")
	}
}

// GenerateID generates a random 16-byte hex ID for entities that don't
// use Postgres's gen_random_uuid() default.
func GenerateID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		panic("storage: crypto/rand unavailable, cannot generate secure IDs: " + err.Error())
	}
	return hex.EncodeToString(bytes)
}

// poolProfileDefaults returns (maxConns, minConns) for the given profile.
func poolProfileDefaults(profile string) (maxConns, minConns int) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "medium":
		return 15, 3
	case "large":
		return 30, 5
	default:
		return 5, 1
	}
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
