// Package kek provides the process-scoped Key-Encryption-Key used to
// wrap every server-at-rest secret DarkAuth ever persists: JWKS private
// key material and client secrets. It never sees a Data Root Key, an
// export_key, or anything belonging to the client-side key schedule —
// those are wrapped under keys the server never holds in the clear.
package kek

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// KeyLength is the AES-256 key size in bytes.
const KeyLength = 32

var (
	// ErrNotAvailable is returned when Encrypt/Decrypt is called before Unseal.
	ErrNotAvailable = errors.New("kek: not unsealed")
	// ErrInvalidCiphertext is returned when a wrapped blob is truncated or tampered with.
	ErrInvalidCiphertext = errors.New("kek: invalid ciphertext")
)

// scrypt parameters, OWASP-recommended interactive cost.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Kek is the process-scoped key-encryption key. It is a singleton,
// guarded the way internal/config guards its own process-wide state.
type Kek struct {
	mu  sync.RWMutex
	key []byte
}

var (
	instance   *Kek
	instanceMu sync.RWMutex
)

// Unseal derives the KeK from a passphrase and salt and installs it as
// the process singleton. Must be called once at startup.
func Unseal(passphrase string, salt []byte) error {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return errors.New("kek: already unsealed")
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, KeyLength)
	if err != nil {
		return fmt.Errorf("kek: deriving key: %w", err)
	}
	instance = &Kek{key: key}
	return nil
}

// Instance returns the process singleton. Panics if Unseal was never called.
func Instance() *Kek {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	if instance == nil {
		panic("kek: not unsealed - call Unseal first")
	}
	return instance
}

// ResetForTest clears the singleton. Test-only.
func ResetForTest() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// IsAvailable reports whether the KeK is ready to encrypt/decrypt.
func (k *Kek) IsAvailable() bool {
	if k == nil {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.key) == KeyLength
}

// Encrypt seals plaintext under aad, returning nonce||ciphertext||tag.
func (k *Kek) Encrypt(aad, plaintext []byte) ([]byte, error) {
	if !k.IsAvailable() {
		return nil, ErrNotAvailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("kek: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kek: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kek: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// DeriveSecret returns a deterministic HMAC-SHA256(key, label) subkey,
// used where a stable process-wide secret is needed rather than an
// encrypted blob — e.g. deriving internal/pake's per-email dummy OPAQUE
// records so an unknown-email login has timing- and shape-equivalent
// responses to a real one.
func (k *Kek) DeriveSecret(label string) ([]byte, error) {
	if !k.IsAvailable() {
		return nil, ErrNotAvailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	mac := hmac.New(sha256.New, k.key)
	mac.Write([]byte(label))
	return mac.Sum(nil), nil
}

// Decrypt opens a blob produced by Encrypt under the same aad.
func (k *Kek) Decrypt(aad, blob []byte) ([]byte, error) {
	if !k.IsAvailable() {
		return nil, ErrNotAvailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, fmt.Errorf("kek: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kek: new gcm: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return pt, nil
}
