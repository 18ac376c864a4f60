// Package pake implements the server side of the OPAQUE registration
// and login protocol the spec pins to the P-256 group, plus the
// short-lived login-session and pending-registration state machines
// that bind a completed PAKE to an authenticated sub.
//
// Protocol shape (pending-registration/password-file/session types, the
// key-committing envelope, and the 3DH transcript with PRF confirmation
// tags) is grounded on avahowell-occlude's OPAQUE-like construction;
// group arithmetic runs over stdlib P-256 rather than Ristretto255
// because the spec names the curve explicitly and no pack library
// implements a P-256-compatible OPRF (see DESIGN.md).
package pake

import (
	"crypto/hmac"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned for any OPAQUE cryptographic failure; the
// caller must map it to a uniform Unauthorized response regardless of
// cause, to avoid leaking "bad password" vs "no such user".
var ErrUnauthorized = errors.New("pake: authentication failed")

// Engine is a stateless wrapper over the OPAQUE primitives: every method
// takes whatever state it needs as an explicit argument and returns the
// next state as an explicit value. It holds no per-request mutable
// state itself — the pending-registration and login-session tables
// that carry that state between round trips live in internal/pake's
// Store types, not in Engine.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// RegisterStart handles register_start: the client has already blinded
// its password into alpha (requestBytes). The engine allocates a fresh
// per-record OPRF secret ks and a fresh server static keypair (ps, Ps),
// evaluates beta = alpha^ks, and returns the response to relay to the
// client plus the pending state the caller must persist under a
// pending_id for up to 120s.
func (e *Engine) RegisterStart(requestBytes []byte) (messageBytes []byte, pendingBytes []byte, err error) {
	var req registerRequestWire
	if err := unmarshalWire(requestBytes, &req); err != nil {
		return nil, nil, err
	}
	alpha, err := decodePoint(req.Alpha)
	if err != nil {
		return nil, nil, err
	}

	ks := randomScalar()
	ps := randomScalar()
	Ps := basePointMult(ps)
	beta := evaluate(alpha, ks)

	resp := registerResponseWire{Beta: beta.encode(), ServerPublicKey: Ps.encode()}
	msg, err := marshalWire(resp)
	if err != nil {
		return nil, nil, err
	}

	pending := PendingRegistration{Ks: ks.bytes(), Ps: ps.bytes()}
	pendingBytes, err = pending.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return msg, pendingBytes, nil
}

// RegisterFinish handles register_finish: the client has derived rw,
// built its own static keypair (pu, Pu) and sealed an envelope
// containing (pu, Ps) under rw. The engine only validates wire shape —
// it never sees rw or the plaintext password — and assembles the
// persisted Record the caller then KeK-wraps and stores keyed by sub.
func (e *Engine) RegisterFinish(pendingBytes, recordBytes []byte) (*Record, error) {
	pending, err := UnmarshalPendingRegistration(pendingBytes)
	if err != nil {
		return nil, err
	}
	var rec registerRecordWire
	if err := unmarshalWire(recordBytes, &rec); err != nil {
		return nil, err
	}
	if _, err := decodePoint(rec.Pu); err != nil {
		return nil, err
	}

	psScalar := scalarFromBytes(pending.Ps)
	Ps := basePointMult(psScalar)

	return &Record{
		Ks:         pending.Ks,
		Ps:         pending.Ps,
		PsPub:      Ps.encode(),
		Pu:         rec.Pu,
		Ciphertext: rec.Ciphertext,
		Tag:        rec.Tag,
	}, nil
}

// LoginStart handles login_start for a located User's Record (or, when
// the user does not exist, a deterministic dummy Record the caller
// builds from HMAC(server_secret, email) so timing and response shape
// match the real path — see DummyRecord). It evaluates the OPRF on the
// client's blinded input, runs its half of the 3DH exchange, and
// returns the response plus the opaque session state the caller must
// persist under a session_id for up to 60s, single-use.
func (e *Engine) LoginStart(sub string, record *Record, requestBytes []byte) (messageBytes []byte, sessionBytes []byte, err error) {
	var req loginRequestWire
	if err := unmarshalWire(requestBytes, &req); err != nil {
		return nil, nil, ErrUnauthorized
	}
	alpha, err := decodePoint(req.Alpha)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	Xu, err := decodePoint(req.Xu)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	Pu, err := decodePoint(record.Pu)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}

	ks := scalarFromBytes(record.Ks)
	ps := scalarFromBytes(record.Ps)
	beta := evaluate(alpha, ks)

	xs := randomScalar()
	Xs := basePointMult(xs)

	K := ke3DHServer(ps, xs, Pu, Xu)
	sessionKey := prf(K, 0)
	fk1 := prf(K, 1)
	expectedFk2 := prf(K, 2)

	resp := loginResponseWire{
		Beta:       beta.encode(),
		Xs:         Xs.encode(),
		Ciphertext: record.Ciphertext,
		Tag:        record.Tag,
		Fk1:        fk1,
	}
	msg, err := marshalWire(resp)
	if err != nil {
		return nil, nil, err
	}

	state := LoginSessionState{Sub: sub, SessionKey: sessionKey, ExpectedFk2: expectedFk2}
	sessionBytes, err = state.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return msg, sessionBytes, nil
}

// LoginFinish handles login_finish: the caller has already loaded and
// removed (compare-and-delete) the session state for the claimed
// session_id. It verifies the client's confirmation tag fk2 and, on
// success, returns the session key both sides agreed on.
func (e *Engine) LoginFinish(state *LoginSessionState, finishBytes []byte) (sessionKey []byte, err error) {
	var fin loginFinishWire
	if err := unmarshalWire(finishBytes, &fin); err != nil {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(fin.Fk2, state.ExpectedFk2) != 1 {
		return nil, ErrUnauthorized
	}
	return state.SessionKey, nil
}

// DummyRecord builds a deterministic, timing-equivalent stand-in Record
// for an email with no registered user, derived from
// HMAC(serverSecret, email), so login_start's response shape and timing
// match the real path regardless of whether the account exists (spec
// §4.1, mirroring internal/auth/password.go's DummyPasswordCheck idiom).
func DummyRecord(serverSecret []byte, email string) *Record {
	mac := hmac.New(newEnvelopeHash, serverSecret)
	mac.Write([]byte("darkauth-dummy-record|" + email))
	seed := mac.Sum(nil)

	ks := scalarFromBytes(seed)
	mac.Reset()
	mac.Write([]byte("darkauth-dummy-record-ps|" + email))
	ps := scalarFromBytes(mac.Sum(nil))
	Ps := basePointMult(ps)

	mac.Reset()
	mac.Write([]byte("darkauth-dummy-record-pu|" + email))
	puScalar := scalarFromBytes(mac.Sum(nil))
	Pu := basePointMult(puScalar)

	return &Record{
		Ks:         ks.bytes(),
		Ps:         ps.bytes(),
		PsPub:      Ps.encode(),
		Pu:         Pu.encode(),
		Ciphertext: seed,
		Tag:        seed,
	}
}

// DummySub derives the deterministic pseudo-random sub returned for an
// unknown email during login_start (spec §4.1: "MUST be a deterministic
// pseudo-random value derived from HMAC(server_secret, email)").
func DummySub(serverSecret []byte, email string) string {
	mac := hmac.New(newEnvelopeHash, serverSecret)
	mac.Write([]byte("darkauth-dummy-sub|" + email))
	return EncodeBlob(mac.Sum(nil))
}
