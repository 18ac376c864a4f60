// Package audit provides a thin, typed wrapper over the append-only
// audit_events table: named event constants and a Record helper that
// never blocks or fails the caller's request path.
package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/darkauth/darkauth/internal/storage"
)

// Event names recorded to the audit trail. Keep these stable: they are
// the vocabulary an operator filters/searches on.
const (
	EventUserRegistered             = "user.registered"
	EventLoginSucceeded             = "login.succeeded"
	EventLoginFailed                = "login.failed"
	EventMFAEnrolled                = "mfa.enrolled"
	EventMFAVerified                = "mfa.verified"
	EventMFAFailed                  = "mfa.failed"
	EventMFABackupCodeUsed          = "mfa.backup_code_used"
	EventAuthorizeGranted           = "authorize.granted"
	EventAuthorizeDenied            = "authorize.denied"
	EventTokenIssued                = "token.issued"
	EventTokenRefreshed             = "token.refreshed"
	EventTokenRevoked               = "token.revoked"
	EventClientRegistered           = "client.registered"
	EventClientUpdated              = "client.updated"
	EventClientSecretRotated        = "client.secret_rotated"
	EventClientDeregistered         = "client.deregistered"
	EventJWKSRotated                = "jwks.rotated"
	EventPasswordChanged            = "password.changed"
	EventPasswordChangeVerifyFailed = "password.change_verify_failed"
)

// Record appends one audit event. A write failure is logged but never
// returned, since audit logging must not be able to fail the request
// it describes.
func Record(ctx context.Context, pool *pgxpool.Pool, eventType string, sub, clientID, ipAddress *string, detail any) {
	if err := storage.RecordAuditEvent(ctx, pool, eventType, sub, clientID, ipAddress, detail); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("audit: failed to record event")
	}
}

// ForUser returns a user's audit trail, newest first.
func ForUser(ctx context.Context, pool *pgxpool.Pool, sub string, limit int) ([]*storage.AuditEvent, error) {
	return storage.ListAuditEventsForUser(ctx, pool, sub, limit)
}
