package clientkit

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"fmt"
)

const jsonAAD = "darkauth-json-blob"

// EncryptJSON marshals v and seals it under the DRK for the round-trip
// property: decrypt(encrypt(json, DRK), DRK) == json.
func EncryptJSON(drk []byte, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("clientkit: marshaling json: %w", err)
	}
	return seal(drk, []byte(jsonAAD), raw)
}

// DecryptJSON reverses EncryptJSON into a value of type T.
func DecryptJSON[T any](drk, blob []byte) (T, error) {
	var zero T
	raw, err := open(drk, []byte(jsonAAD), blob)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("clientkit: unmarshaling json: %w", err)
	}
	return v, nil
}

const shareAADInfo = "darkauth-share-dek"

// ShareDEK wraps dek to recipientPub via ephemeral ECDH P-256 + HKDF +
// AES-256-GCM, so only the holder of the matching private key can open it.
// Wire layout: ephemeralPublicKey(65, uncompressed) || iv(12) || ct.
func ShareDEK(recipientPub *ecdh.PublicKey, dek []byte) ([]byte, error) {
	curve := ecdh.P256()
	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("clientkit: generating ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("clientkit: ecdh: %w", err)
	}
	key, err := hkdfExpand(shared, recipientPub.Bytes(), shareAADInfo)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(key, []byte(shareAADInfo), dek)
	if err != nil {
		return nil, err
	}
	ephPub := ephemeral.PublicKey().Bytes()
	out := make([]byte, 0, len(ephPub)+len(sealed))
	out = append(out, ephPub...)
	out = append(out, sealed...)
	return out, nil
}

// OpenSharedDEK reverses ShareDEK using the recipient's private key.
func OpenSharedDEK(recipientPriv *ecdh.PrivateKey, blob []byte) ([]byte, error) {
	curve := ecdh.P256()
	const uncompressedP256Len = 65
	if len(blob) < uncompressedP256Len {
		return nil, ErrInvalidCiphertext
	}
	ephPubBytes, sealed := blob[:uncompressedP256Len], blob[uncompressedP256Len:]
	ephPub, err := curve.NewPublicKey(ephPubBytes)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	shared, err := recipientPriv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("clientkit: ecdh: %w", err)
	}
	key, err := hkdfExpand(shared, recipientPriv.PublicKey().Bytes(), shareAADInfo)
	if err != nil {
		return nil, err
	}
	return open(key, []byte(shareAADInfo), sealed)
}

// ShareResult is one recipient's outcome from ShareDEKToMany.
type ShareResult struct {
	Index int
	Blob  []byte
	Err   error
}

// ShareDEKToMany fans a DEK out to many recipients with bounded
// concurrency, accumulating partial failures. It succeeds (returns a
// nil error) iff at least one recipient encryption succeeded.
func ShareDEKToMany(recipients []*ecdh.PublicKey, dek []byte, maxConcurrency int) ([]ShareResult, error) {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	results := make([]ShareResult, len(recipients))
	sem := make(chan struct{}, maxConcurrency)
	done := make(chan int, len(recipients))

	for i, pub := range recipients {
		sem <- struct{}{}
		go func(i int, pub *ecdh.PublicKey) {
			defer func() { <-sem; done <- i }()
			blob, err := ShareDEK(pub, dek)
			results[i] = ShareResult{Index: i, Blob: blob, Err: err}
		}(i, pub)
	}
	for range recipients {
		<-done
	}

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}
	if succeeded == 0 && len(recipients) > 0 {
		return results, fmt.Errorf("clientkit: all %d recipient encryptions failed", len(recipients))
	}
	return results, nil
}
