// Package auth holds small, stateless credential-handling helpers
// shared across DarkAuth's client registry and token endpoint.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/darkauth/darkauth/internal/kek"
)

const (
	// ClientSecretPrefix marks a DarkAuth-issued confidential-client
	// secret so one glance at a leaked value identifies its origin.
	ClientSecretPrefix = "darkauth_cs_"
	// ClientSecretLength is the number of random hex characters appended to the prefix.
	ClientSecretLength = 48
)

// GenerateClientSecret generates a new confidential-client secret in
// the form darkauth_cs_<48 hex chars>. The raw value is returned once;
// only its AEAD-wrapped ciphertext is ever persisted.
func GenerateClientSecret() (string, error) {
	raw := make([]byte, ClientSecretLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generating client secret: %w", err)
	}
	return ClientSecretPrefix + hex.EncodeToString(raw), nil
}

// clientSecretAAD binds a wrapped secret to the client row it belongs
// to, so a ciphertext copied onto a different client's row fails to
// decrypt rather than silently authenticating the wrong client.
func clientSecretAAD(clientID string) []byte {
	return []byte("darkauth:client_secret:" + clientID)
}

// EncryptClientSecret AEAD-wraps secret under the server's
// key-encryption key, reversibly, so a confidential client's secret
// can be recovered for display or rotation bookkeeping rather than
// only ever compared. It returns (nil, nil) — not an error — when the
// KeK has not been unsealed yet, matching the client_secret_enc=null
// branch a registration taken during startup degradation must allow.
func EncryptClientSecret(clientID, secret string) ([]byte, error) {
	k := kek.Instance()
	if !k.IsAvailable() {
		return nil, nil
	}
	enc, err := k.Encrypt(clientSecretAAD(clientID), []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("auth: encrypting client secret: %w", err)
	}
	return enc, nil
}

// DecryptClientSecret reverses EncryptClientSecret.
func DecryptClientSecret(clientID string, enc []byte) (string, error) {
	k := kek.Instance()
	if !k.IsAvailable() {
		return "", fmt.Errorf("auth: key-encryption key is not available")
	}
	pt, err := k.Decrypt(clientSecretAAD(clientID), enc)
	if err != nil {
		return "", fmt.Errorf("auth: decrypting client secret: %w", err)
	}
	return string(pt), nil
}

// VerifyClientSecret decrypts enc and compares it against secret in
// constant time.
func VerifyClientSecret(clientID, secret string, enc []byte) bool {
	pt, err := DecryptClientSecret(clientID, enc)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pt), []byte(secret)) == 1
}

// IsValidClientSecretFormat is a cheap pre-check before an AEAD
// decrypt-and-compare, rejecting obviously malformed credentials early.
func IsValidClientSecretFormat(secret string) bool {
	if len(secret) != len(ClientSecretPrefix)+ClientSecretLength {
		return false
	}
	if secret[:len(ClientSecretPrefix)] != ClientSecretPrefix {
		return false
	}
	_, err := hex.DecodeString(secret[len(ClientSecretPrefix):])
	return err == nil
}
