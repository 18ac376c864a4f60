package pake

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire messages are always opaque base64url strings to every caller
// outside this package (spec: "the server treats them as blobs and
// never parses cryptographic structure"). EncodeBlob/DecodeBlob use
// unpadded base64url, but the HTTP handlers in internal/httpapi and
// cmd/clientsim do not call them: they carry these messages as standard
// padded base64.

func EncodeBlob(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func DecodeBlob(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pake: decoding blob: %w", err)
	}
	return b, nil
}

// registerRequestWire is the client -> server register_start payload.
type registerRequestWire struct {
	Alpha []byte `json:"alpha"`
}

// registerResponseWire is the server -> client register_start response.
type registerResponseWire struct {
	Beta            []byte `json:"beta"`
	ServerPublicKey []byte `json:"server_public_key"`
}

// registerRecordWire is the client -> server register_finish payload.
type registerRecordWire struct {
	Pu         []byte `json:"pu"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// loginRequestWire is the client -> server login_start payload.
type loginRequestWire struct {
	Alpha []byte `json:"alpha"`
	Xu    []byte `json:"xu"`
}

// loginResponseWire is the server -> client login_start response.
type loginResponseWire struct {
	Beta       []byte `json:"beta"`
	Xs         []byte `json:"xs"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
	Fk1        []byte `json:"fk1"`
}

// loginFinishWire is the client -> server login_finish payload.
type loginFinishWire struct {
	Fk2 []byte `json:"fk2"`
}

func marshalWire(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalWire(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// Record is the server's persisted OPAQUE credential for one subject.
// It is never stored in the clear: the caller (internal/opaqueauth) wraps
// its serialized form under internal/kek before writing it, and the
// column it lives in is named envelope_ciphertext precisely because
// from the database's point of view it IS just an opaque blob.
type Record struct {
	Ks         []byte `json:"ks"`
	Ps         []byte `json:"ps"`
	PsPub      []byte `json:"ps_pub"`
	Pu         []byte `json:"pu"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

func (r *Record) Marshal() ([]byte, error) { return json.Marshal(r) }

func UnmarshalRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("pake: unmarshaling record: %w", err)
	}
	return &r, nil
}

// PendingRegistration is the opaque state returned by RegisterStart and
// supplied back into RegisterFinish. Callers persist it keyed by a
// pending_id with a 120s TTL (spec §4.1) — it never leaves the server.
type PendingRegistration struct {
	Ks []byte `json:"ks"`
	Ps []byte `json:"ps"`
}

func (p *PendingRegistration) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalPendingRegistration(b []byte) (*PendingRegistration, error) {
	var p PendingRegistration
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("pake: unmarshaling pending registration: %w", err)
	}
	return &p, nil
}

// LoginSessionState is the opaque state returned by LoginStart and
// supplied back into LoginFinish. Callers persist it keyed by
// session_id with a 60s TTL (spec §4.1), single-use.
type LoginSessionState struct {
	Sub         string `json:"sub"`
	SessionKey  []byte `json:"session_key"`
	ExpectedFk2 []byte `json:"expected_fk2"`
}

func (s *LoginSessionState) Marshal() ([]byte, error) { return json.Marshal(s) }

func UnmarshalLoginSessionState(b []byte) (*LoginSessionState, error) {
	var s LoginSessionState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("pake: unmarshaling login session state: %w", err)
	}
	return &s, nil
}
