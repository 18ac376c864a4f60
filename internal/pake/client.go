package pake

import (
	"crypto/subtle"
	"fmt"
)

// Client is the client side of the OPAQUE protocol, used by
// cmd/clientsim and by tests that exercise Engine end-to-end — the
// real browser client that would normally hold this logic is out of
// scope, but the protocol it must run is not (mirrors occlude's Client).
type Client struct{}

func NewClient() *Client { return &Client{} }

// RegisterState is held between RegisterStart and RegisterFinish.
type RegisterState struct {
	r *scalar
}

// RegisterStart blinds password and returns the wire request to send to
// register_start.
func (c *Client) RegisterStart(password string) (requestBytes []byte, state *RegisterState, err error) {
	alpha, r := blind([]byte(password))
	req := registerRequestWire{Alpha: alpha.encode()}
	requestBytes, err = marshalWire(req)
	if err != nil {
		return nil, nil, err
	}
	return requestBytes, &RegisterState{r: r}, nil
}

// RegisterFinish derives rw from the register_start response, builds a
// fresh client static keypair, seals the registration envelope, and
// returns the wire record to send to register_finish plus the
// export_key this registration would yield on a matching login.
func (c *Client) RegisterFinish(state *RegisterState, password string, messageBytes []byte) (recordBytes []byte, exportKey []byte, err error) {
	var resp registerResponseWire
	if err := unmarshalWire(messageBytes, &resp); err != nil {
		return nil, nil, err
	}
	beta, err := decodePoint(resp.Beta)
	if err != nil {
		return nil, nil, err
	}
	Ps, err := decodePoint(resp.ServerPublicKey)
	if err != nil {
		return nil, nil, err
	}

	rw := finalize([]byte(password), beta, state.r)

	pu := randomScalar()
	Pu := basePointMult(pu)

	env, err := sealEnvelope(rw, envelopePayload{Pu: pu.bytes(), Ps: Ps.encode()})
	if err != nil {
		return nil, nil, err
	}

	rec := registerRecordWire{Pu: Pu.encode(), Ciphertext: env.Ciphertext, Tag: env.Tag}
	recordBytes, err = marshalWire(rec)
	if err != nil {
		return nil, nil, err
	}
	return recordBytes, exportKeyFrom(rw), nil
}

// LoginState is held between LoginStart and LoginFinish.
type LoginState struct {
	xu *scalar
	r  *scalar
}

// LoginStart blinds password and generates an ephemeral AKE keypair,
// returning the wire request to send to login_start.
func (c *Client) LoginStart(password string) (requestBytes []byte, state *LoginState, err error) {
	alpha, r := blind([]byte(password))
	xu := randomScalar()
	Xu := basePointMult(xu)

	req := loginRequestWire{Alpha: alpha.encode(), Xu: Xu.encode()}
	requestBytes, err = marshalWire(req)
	if err != nil {
		return nil, nil, err
	}
	return requestBytes, &LoginState{xu: xu, r: r}, nil
}

// LoginFinish derives rw from the login_start response, opens the
// registration envelope it carries, completes the 3DH exchange, and
// verifies the server's confirmation tag. On success it returns the
// wire finish payload to send to login_finish, the shared session key,
// and the export_key — identical, bit for bit, to the one
// RegisterFinish produced for the same password.
func (c *Client) LoginFinish(state *LoginState, password string, messageBytes []byte) (finishBytes []byte, sessionKey []byte, exportKey []byte, err error) {
	var resp loginResponseWire
	if err := unmarshalWire(messageBytes, &resp); err != nil {
		return nil, nil, nil, ErrUnauthorized
	}
	beta, err := decodePoint(resp.Beta)
	if err != nil {
		return nil, nil, nil, ErrUnauthorized
	}
	Xs, err := decodePoint(resp.Xs)
	if err != nil {
		return nil, nil, nil, ErrUnauthorized
	}

	rw := finalize([]byte(password), beta, state.r)

	payload, err := openEnvelope(rw, envelope{Ciphertext: resp.Ciphertext, Tag: resp.Tag})
	if err != nil {
		return nil, nil, nil, ErrUnauthorized
	}
	pu := scalarFromBytes(payload.Pu)
	Ps, err := decodePoint(payload.Ps)
	if err != nil {
		return nil, nil, nil, ErrUnauthorized
	}

	K := ke3DHClient(pu, state.xu, Ps, Xs)
	sessionKey = prf(K, 0)
	expectedFk1 := prf(K, 1)
	if subtle.ConstantTimeCompare(expectedFk1, resp.Fk1) != 1 {
		return nil, nil, nil, fmt.Errorf("%w: server confirmation mismatch", ErrUnauthorized)
	}
	fk2 := prf(K, 2)

	fin := loginFinishWire{Fk2: fk2}
	finishBytes, err = marshalWire(fin)
	if err != nil {
		return nil, nil, nil, err
	}
	return finishBytes, sessionKey, exportKeyFrom(rw), nil
}

func exportKeyFrom(rw []byte) []byte {
	_, cipherKey := deriveEnvelopeKeys(rw)
	// export_key is a PRF output keyed by the envelope cipher key, distinct
	// from that key but derived from the same rw, so it is the same for
	// every login with the same password against the same record.
	return prf(cipherKey, 0xFF)
}
