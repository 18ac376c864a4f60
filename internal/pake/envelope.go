package pake

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"hash"
)

func newEnvelopeHash() hash.Hash { return sha256.New() }

// ErrEnvelopeAuth is returned when an envelope's authentication tag
// does not verify (wrong password, or tampering).
var ErrEnvelopeAuth = errors.New("pake: envelope authentication failed")

// envelopePayload is the plaintext sealed inside a registration envelope:
// the client's static private scalar and the server's static public
// point captured at registration time.
type envelopePayload struct {
	Pu []byte `json:"pu"`
	Ps []byte `json:"Ps"`
}

// envelope is AES-256-GCM-sealed, then separately HMAC'd with a key
// derived from the same OPRF output, giving two independent keys over
// the ciphertext — a belt-and-suspenders key-committing construction
// matching occlude's AES-CTR+HMAC envelope, generalized to GCM per the
// spec's AEAD choice for every other wrapped blob in the system.
type envelope struct {
	Ciphertext []byte
	Tag        []byte
}

func sealEnvelope(rw []byte, payload envelopePayload) (envelope, error) {
	macKey, cipherKey := deriveEnvelopeKeys(rw)

	raw, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, err
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return envelope{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return envelope{}, err
	}
	// Registration envelopes use a fixed zero nonce: the cipher key is
	// freshly HKDF-derived per registration from a fresh OPRF key, never
	// reused across records, so nonce reuse under a single key cannot occur.
	nonce := make([]byte, gcm.NonceSize())
	ct := gcm.Seal(nil, nonce, raw, nil)

	mac := hmac.New(newEnvelopeHash, macKey)
	mac.Write(ct)
	tag := mac.Sum(nil)

	return envelope{Ciphertext: ct, Tag: tag}, nil
}

func openEnvelope(rw []byte, env envelope) (envelopePayload, error) {
	macKey, cipherKey := deriveEnvelopeKeys(rw)

	mac := hmac.New(newEnvelopeHash, macKey)
	mac.Write(env.Ciphertext)
	expected := mac.Sum(nil)
	if subtle.ConstantTimeCompare(expected, env.Tag) != 1 {
		return envelopePayload{}, ErrEnvelopeAuth
	}

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return envelopePayload{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return envelopePayload{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	raw, err := gcm.Open(nil, nonce, env.Ciphertext, nil)
	if err != nil {
		return envelopePayload{}, ErrEnvelopeAuth
	}

	var payload envelopePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return envelopePayload{}, ErrEnvelopeAuth
	}
	return payload, nil
}
