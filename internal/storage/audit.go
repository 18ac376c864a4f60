package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one row of the append-only audit trail: logins, MFA
// challenges, client registrations, token issuance/revocation, and
// admin actions. detail is a free-form JSON blob so each event_type
// can carry whatever context is useful without a schema migration per
// event kind.
type AuditEvent struct {
	ID        int64
	EventType string
	Sub       *string
	ClientID  *string
	IPAddress *string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// RecordAuditEvent appends one event. Failures to write an audit event
// are logged by the caller but must never block the request path the
// event describes.
func RecordAuditEvent(ctx context.Context, pool *pgxpool.Pool, eventType string, sub, clientID, ipAddress *string, detail any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("storage: marshal audit detail: %w", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO audit_events (event_type, sub, client_id, ip_address, detail) VALUES ($1, $2, $3, $4, $5)`,
		eventType, sub, clientID, ipAddress, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// ListAuditEventsForUser returns a user's audit trail, newest first,
// for the account-activity view.
func ListAuditEventsForUser(ctx context.Context, pool *pgxpool.Pool, sub string, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := pool.Query(ctx,
		`SELECT id, event_type, sub, client_id, ip_address, detail, created_at
		 FROM audit_events WHERE sub = $1 ORDER BY created_at DESC LIMIT $2`, sub, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Sub, &e.ClientID, &e.IPAddress, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
