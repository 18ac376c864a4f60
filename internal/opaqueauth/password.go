package opaqueauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/storage"
)

// ErrUnknownUser is returned when a password-change or password-change
// verification call names a sub with no registered OPAQUE record,
// which should not happen for an authenticated session and indicates
// account state has gone inconsistent.
var ErrUnknownUser = errors.New("opaqueauth: no opaque record for sub")

// recordForSub loads and unwraps the stored OPAQUE record for an
// already-known sub (as opposed to LoginStart's email lookup, which
// also has to handle the "no such account" dummy-record path).
func (s *Service) recordForSub(ctx context.Context, pool *pgxpool.Pool, sub string) (*pake.Record, error) {
	wrapped, err := storage.GetOpaqueRecord(ctx, pool, sub)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}
	plain, err := s.kek.Decrypt([]byte("opaque:"+sub), wrapped)
	if err != nil {
		return nil, err
	}
	return pake.UnmarshalRecord(plain)
}

// VerifyCurrentPasswordStart begins an OPAQUE login against sub's
// existing record, used by password/change/verify/start (an
// authenticated user proving they still know their current password
// before being allowed to set a new one). password/recovery/verify/start
// does not call it: that handler runs LoginStart against the recovery
// email instead.
func (s *Service) VerifyCurrentPasswordStart(ctx context.Context, pool *pgxpool.Pool, sub string, requestBlob []byte) (messageBlob []byte, sessionID string, err error) {
	record, err := s.recordForSub(ctx, pool, sub)
	if err != nil {
		return nil, "", err
	}
	msg, sessionBytes, err := s.engine.LoginStart(sub, record, requestBlob)
	if err != nil {
		return nil, "", err
	}
	sessionID, err = randomHexID()
	if err != nil {
		return nil, "", err
	}
	s.sessions.Put(sessionID, sessionBytes, loginSessionTTL)
	return msg, sessionID, nil
}

// VerifyCurrentPasswordFinish completes the login run VerifyCurrentPasswordStart
// began. It is identical in mechanics to LoginFinish; kept as its own
// entry point so callers that only need "does sub still know this
// password" don't have to read through LoginFinish's login-flow doc
// comment to know it applies here too.
func (s *Service) VerifyCurrentPasswordFinish(sessionID string, finishBlob []byte) (sub string, sessionKey []byte, err error) {
	return s.LoginFinish(sessionID, finishBlob)
}

// ChangeStart begins registering a replacement OPAQUE record for an
// already-authenticated sub. Mechanically identical to RegisterStart;
// the distinction only matters at Finish, which updates in place
// instead of creating a new user.
func (s *Service) ChangeStart(requestBlob []byte) (messageBlob []byte, pendingID string, err error) {
	return s.RegisterStart(requestBlob)
}

// ChangeFinish completes a password change: it builds the new Record
// from the pending registration state, KeK-wraps it, and atomically
// replaces sub's opaque_records row (PutOpaqueRecord upserts) and
// clears password_reset_required in the same request — but never in
// the same SQL statement as revocation, which callers (the HTTP
// handler) perform afterward so that a revoke failure can still be
// retried against an already-changed password.
func (s *Service) ChangeFinish(ctx context.Context, pool *pgxpool.Pool, pendingID, sub string, recordBlob []byte) error {
	pendingBytes, ok := s.pending.Take(pendingID)
	if !ok {
		return pake.ErrUnauthorized
	}
	record, err := s.engine.RegisterFinish(pendingBytes, recordBlob)
	if err != nil {
		return err
	}
	recordBytes, err := record.Marshal()
	if err != nil {
		return fmt.Errorf("opaqueauth: marshal record: %w", err)
	}
	wrapped, err := s.kek.Encrypt([]byte("opaque:"+sub), recordBytes)
	if err != nil {
		return fmt.Errorf("opaqueauth: wrap record: %w", err)
	}
	if err := storage.PutOpaqueRecord(ctx, pool, sub, wrapped); err != nil {
		return err
	}
	return storage.SetPasswordResetRequired(ctx, pool, sub, false)
}
