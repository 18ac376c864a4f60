// Package clientkit implements the client-side key schedule and Data
// Root Key (DRK) lifecycle described by the Zero-Knowledge Delivery
// design: deriving a master key, a wrap key and a derive key from an
// OPAQUE export_key, and AEAD-wrapping/unwrapping the DRK and the
// per-user asymmetric encryption keypair under those derived keys.
//
// Nothing in this package is reachable from the server's own trust
// boundary — it exists so the bit-exact schedule is implemented,
// tested, and exercised (by cmd/clientsim and the end-to-end tests)
// even though the real browser client that would normally hold it is
// out of scope.
package clientkit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLength is the length in bytes of every derived symmetric key and
// of the DRK itself.
const KeyLength = 32

var (
	ErrInvalidCiphertext = errors.New("clientkit: invalid ciphertext")
	ErrInvalidExportKey  = errors.New("clientkit: export_key must be 32 bytes")
)

// DefaultTenant is used when no tenant is specified.
const DefaultTenant = "default"

// Salt computes salt = SHA-256("DarkAuth|v1|tenant=<tenant>|user=<sub>").
func Salt(tenant, sub string) []byte {
	if tenant == "" {
		tenant = DefaultTenant
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("DarkAuth|v1|tenant=%s|user=%s", tenant, sub)))
	return h[:]
}

func hkdfExpand(ikm, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("clientkit: hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveMasterKey computes MK = HKDF-SHA-256(EK, salt, "mk").
func DeriveMasterKey(exportKey, tenant, sub string) ([]byte, error) {
	return deriveMasterKeyBytes([]byte(exportKey), tenant, sub)
}

// DeriveMasterKeyBytes is the byte-slice form of DeriveMasterKey.
func DeriveMasterKeyBytes(exportKey []byte, tenant, sub string) ([]byte, error) {
	return deriveMasterKeyBytes(exportKey, tenant, sub)
}

func deriveMasterKeyBytes(exportKey []byte, tenant, sub string) ([]byte, error) {
	if len(exportKey) != KeyLength {
		return nil, ErrInvalidExportKey
	}
	return hkdfExpand(exportKey, Salt(tenant, sub), "mk")
}

// DeriveWrapKey computes KW = HKDF-SHA-256(MK, "DarkAuth|v1", "wrap-key").
func DeriveWrapKey(mk []byte) ([]byte, error) {
	return hkdfExpand(mk, []byte("DarkAuth|v1"), "wrap-key")
}

// DeriveDataKey computes KDerive = HKDF-SHA-256(MK, "DarkAuth|v1", "data-derive").
func DeriveDataKey(mk []byte) ([]byte, error) {
	return hkdfExpand(mk, []byte("DarkAuth|v1"), "data-derive")
}

// GenerateDRK produces a fresh 32-byte Data Root Key.
func GenerateDRK() ([]byte, error) {
	drk := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, drk); err != nil {
		return nil, fmt.Errorf("clientkit: generating DRK: %w", err)
	}
	return drk, nil
}

func seal(key, aad, pt []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("clientkit: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("clientkit: new gcm: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("clientkit: generating iv: %w", err)
	}
	return gcm.Seal(iv, iv, pt, aad), nil
}

func open(key, aad, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("clientkit: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("clientkit: new gcm: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	iv, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	pt, err := gcm.Open(nil, iv, ct, aad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return pt, nil
}

// WrapDRK computes wrapped_drk = AES-256-GCM(key=KW, iv=random12, aad=sub, pt=DRK).
// Layout: iv(12) || ct || tag(16).
func WrapDRK(kw []byte, sub string, drk []byte) ([]byte, error) {
	return seal(kw, []byte(sub), drk)
}

// UnwrapDRK reverses WrapDRK.
func UnwrapDRK(kw []byte, sub string, wrapped []byte) ([]byte, error) {
	return open(kw, []byte(sub), wrapped)
}

// privateKeyWrapInfo matches spec: salt="DarkAuth|user-keys", info="private-key-wrap".
const privateKeyWrapSalt = "DarkAuth|user-keys"
const privateKeyWrapInfo = "private-key-wrap"
const privateKeyWrapAAD = "user-private-key"

// derivePrivateKeyWrapKey derives the AES key used to wrap the user's
// encryption private key from the DRK, per the spec's HKDF parameters.
func derivePrivateKeyWrapKey(drk []byte) ([]byte, error) {
	return hkdfExpand(drk, []byte(privateKeyWrapSalt), privateKeyWrapInfo)
}

// WrapPrivateKey wraps a marshaled ECDH P-256 private key under a key
// derived from the DRK. Layout: iv(12) || ct (including GCM tag).
func WrapPrivateKey(drk, privBytes []byte) ([]byte, error) {
	key, err := derivePrivateKeyWrapKey(drk)
	if err != nil {
		return nil, err
	}
	return seal(key, []byte(privateKeyWrapAAD), privBytes)
}

// UnwrapPrivateKey reverses WrapPrivateKey.
func UnwrapPrivateKey(drk, wrapped []byte) ([]byte, error) {
	key, err := derivePrivateKeyWrapKey(drk)
	if err != nil {
		return nil, err
	}
	return open(key, []byte(privateKeyWrapAAD), wrapped)
}

// EncKeypair is the per-user asymmetric encryption keypair derived from
// KDerive, used for per-document sharing (C.4.1).
type EncKeypair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// DeriveEncKeypair derives a deterministic ECDH P-256 keypair from
// KDerive so that it can be regenerated identically across devices
// given the same DRK-independent derive key and regenerated again at
// recovery time.
func DeriveEncKeypair(kDerive []byte) (*EncKeypair, error) {
	seed, err := hkdfExpand(kDerive, []byte("DarkAuth|v1"), "enc-keypair-seed")
	if err != nil {
		return nil, err
	}
	curve := ecdh.P256()
	priv, err := curve.NewPrivateKey(seed)
	if err != nil {
		// Extremely unlikely (seed landed outside the scalar's valid range);
		// fall back to rejecting deterministically rather than retrying with
		// entropy that would break reproducibility.
		return nil, fmt.Errorf("clientkit: deriving enc keypair: %w", err)
	}
	return &EncKeypair{Private: priv, Public: priv.PublicKey()}, nil
}
