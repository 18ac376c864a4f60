// Package opaqueauth wires internal/pake's OPAQUE engine to durable
// user storage: registration persists a wrapped envelope under KeK,
// login resolves an email to its stored record (or a deterministic
// dummy when the email is unknown, so response shape and timing never
// disclose account existence).
package opaqueauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/kek"
	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/storage"
)

const (
	pendingRegistrationTTL = 120 * time.Second
	loginSessionTTL        = 60 * time.Second
	dummyRecordLabel       = "opaqueauth-dummy-record-secret"
)

var ErrEmailTaken = errors.New("opaqueauth: email already registered")

// Service is the server side of the OPAQUE registration/login flow.
type Service struct {
	engine   *pake.Engine
	pending  pake.Store // pending_id -> PendingRegistration, 120s
	sessions pake.Store // session_id -> LoginSessionState, 60s
	kek      *kek.Kek
}

func NewService(pending, sessions pake.Store, k *kek.Kek) *Service {
	return &Service{engine: pake.NewEngine(), pending: pending, sessions: sessions, kek: k}
}

func randomHexID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("opaqueauth: generating id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RegisterStart begins OPAQUE registration for a not-yet-existing
// account. The caller is responsible for holding the pending_id and
// returning it to the browser alongside the message bytes so
// RegisterFinish can resume the same in-flight registration.
func (s *Service) RegisterStart(requestBlob []byte) (messageBlob []byte, pendingID string, err error) {
	msg, pendingBytes, err := s.engine.RegisterStart(requestBlob)
	if err != nil {
		return nil, "", err
	}
	pendingID, err = randomHexID()
	if err != nil {
		return nil, "", err
	}
	s.pending.Put(pendingID, pendingBytes, pendingRegistrationTTL)
	return msg, pendingID, nil
}

// RegisterFinish completes registration: it builds the OPAQUE Record,
// KeK-wraps it, and creates the user row and opaque_records row in one
// pass. Returns storage.ErrConflict (wrapped as ErrEmailTaken) if the
// email is already registered.
func (s *Service) RegisterFinish(ctx context.Context, pool *pgxpool.Pool, pendingID, email string, recordBlob []byte) (sub string, err error) {
	pendingBytes, ok := s.pending.Take(pendingID)
	if !ok {
		return "", pake.ErrUnauthorized
	}
	record, err := s.engine.RegisterFinish(pendingBytes, recordBlob)
	if err != nil {
		return "", err
	}

	sub = storage.GenerateID()
	if _, err := storage.CreateUser(ctx, pool, sub, email); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return "", ErrEmailTaken
		}
		return "", err
	}

	recordBytes, err := record.Marshal()
	if err != nil {
		return "", fmt.Errorf("opaqueauth: marshal record: %w", err)
	}
	wrapped, err := s.kek.Encrypt([]byte("opaque:"+sub), recordBytes)
	if err != nil {
		return "", fmt.Errorf("opaqueauth: wrap record: %w", err)
	}
	if err := storage.PutOpaqueRecord(ctx, pool, sub, wrapped); err != nil {
		return "", err
	}
	return sub, nil
}

// LoginStart resolves email to a Record (real or dummy) and runs the
// engine's half of the 3DH exchange.
func (s *Service) LoginStart(ctx context.Context, pool *pgxpool.Pool, email string, requestBlob []byte) (messageBlob []byte, sessionID string, sub string, err error) {
	dummySecret, derr := s.kek.DeriveSecret(dummyRecordLabel)
	if derr != nil {
		return nil, "", "", derr
	}

	user, uerr := storage.GetUserByEmail(ctx, pool, email)
	var record *pake.Record
	if uerr == nil {
		sub = user.Sub
		wrapped, rerr := storage.GetOpaqueRecord(ctx, pool, sub)
		if rerr != nil {
			return nil, "", "", rerr
		}
		plain, derr := s.kek.Decrypt([]byte("opaque:"+sub), wrapped)
		if derr != nil {
			return nil, "", "", derr
		}
		record, err = pake.UnmarshalRecord(plain)
		if err != nil {
			return nil, "", "", err
		}
	} else if errors.Is(uerr, storage.ErrNotFound) {
		sub = pake.DummySub(dummySecret, email)
		record = pake.DummyRecord(dummySecret, email)
	} else {
		return nil, "", "", uerr
	}

	msg, sessionBytes, err := s.engine.LoginStart(sub, record, requestBlob)
	if err != nil {
		return nil, "", "", err
	}
	sessionID, err = randomHexID()
	if err != nil {
		return nil, "", "", err
	}
	s.sessions.Put(sessionID, sessionBytes, loginSessionTTL)
	return msg, sessionID, sub, nil
}

// LoginFinish verifies the client's confirmation tag and returns the
// authenticated subject plus the agreed session key. The session key is
// not currently used beyond the handshake (DarkAuth's own session
// cookie is minted separately by internal/session), but is returned for
// callers that bind it to client-side channel confirmation.
func (s *Service) LoginFinish(sessionID string, finishBlob []byte) (sub string, sessionKey []byte, err error) {
	sessionBytes, ok := s.sessions.Take(sessionID)
	if !ok {
		return "", nil, pake.ErrUnauthorized
	}
	state, err := pake.UnmarshalLoginSessionState(sessionBytes)
	if err != nil {
		return "", nil, pake.ErrUnauthorized
	}
	sessionKey, err = s.engine.LoginFinish(state, finishBlob)
	if err != nil {
		return "", nil, err
	}
	return state.Sub, sessionKey, nil
}
