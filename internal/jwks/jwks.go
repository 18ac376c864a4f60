// Package jwks manages the signing-key lifecycle backing every JWT
// DarkAuth issues: key generation, rotation (old keys kept for
// verification only), the public JWKS document, and JWT signing for ID
// and access tokens. Grounded on internal/auth/local_jwt.go's go-jose
// usage, generalized from HS256 to the asymmetric algorithms an OIDC
// issuer needs.
package jwks

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/darkauth/darkauth/internal/kek"
)

// Alg is a supported signing algorithm.
type Alg string

const (
	EdDSA Alg = "EdDSA"
	RS256 Alg = "RS256"
)

// Entry is one JWKS key-lifecycle row (spec.md's `jwks` table).
type Entry struct {
	KID         string
	Alg         Alg
	PrivateJWK  []byte // KeK-wrapped JSON-marshaled jose.JSONWebKey (private)
	PublicJWK   jose.JSONWebKey
	CreatedAt   time.Time
	RotatedAt   *time.Time
}

// Store holds the process's JWKS lifecycle in memory, backed by
// internal/storage for persistence (the storage layer loads entries at
// boot and persists new ones on Rotate/GenerateKey).
type Store struct {
	mu      sync.RWMutex
	entries []*Entry
	kek     *kek.Kek
}

func NewStore(k *kek.Kek) *Store {
	return &Store{kek: k}
}

// Load replaces the in-memory entry set, e.g. at boot after reading
// rows back from Postgres.
func (s *Store) Load(entries []*Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

// Entries returns a copy of the current entry set.
func (s *Store) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// GenerateKey creates a new signing key of the given algorithm, wraps
// its private half under the KeK, and appends it as the current
// signing key. Callers are responsible for persisting the returned
// Entry.
func (s *Store) GenerateKey(alg Alg) (*Entry, error) {
	kid := uuid.New().String()
	now := time.Now()

	var signingKey any
	var publicKey any
	switch alg {
	case EdDSA:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("jwks: generating ed25519 key: %w", err)
		}
		signingKey, publicKey = priv, pub
	case RS256:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("jwks: generating rsa key: %w", err)
		}
		signingKey, publicKey = priv, &priv.PublicKey
	default:
		return nil, fmt.Errorf("jwks: unsupported algorithm %q", alg)
	}

	privateJWK := jose.JSONWebKey{Key: signingKey, KeyID: kid, Algorithm: string(alg), Use: "sig"}
	publicJWK := jose.JSONWebKey{Key: publicKey, KeyID: kid, Algorithm: string(alg), Use: "sig"}

	privRaw, err := privateJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("jwks: marshaling private jwk: %w", err)
	}
	wrapped, err := s.kek.Encrypt([]byte("jwks:"+kid), privRaw)
	if err != nil {
		return nil, fmt.Errorf("jwks: wrapping private jwk: %w", err)
	}

	entry := &Entry{
		KID:        kid,
		Alg:        alg,
		PrivateJWK: wrapped,
		PublicJWK:  publicJWK,
		CreatedAt:  now,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return entry, nil
}

// EnsureSigningKey generates a signing key of the given algorithm if
// none exists yet, mirroring the teacher's boot-time
// "ensure default tenant" idiom.
func (s *Store) EnsureSigningKey(alg Alg) (*Entry, error) {
	s.mu.RLock()
	for _, e := range s.entries {
		if e.RotatedAt == nil {
			s.mu.RUnlock()
			return e, nil
		}
	}
	s.mu.RUnlock()
	return s.GenerateKey(alg)
}

// Rotate generates a new signing key and marks the previous current
// key as rotated (kept for verification only, never deleted).
func (s *Store) Rotate(alg Alg) (*Entry, error) {
	s.mu.Lock()
	now := time.Now()
	for _, e := range s.entries {
		if e.RotatedAt == nil {
			e.RotatedAt = &now
		}
	}
	s.mu.Unlock()
	return s.GenerateKey(alg)
}

// currentSigningEntry returns the newest entry with RotatedAt == nil.
func (s *Store) currentSigningEntry() (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Entry
	for _, e := range s.entries {
		if e.RotatedAt == nil && (best == nil || e.CreatedAt.After(best.CreatedAt)) {
			best = e
		}
	}
	if best == nil {
		return nil, fmt.Errorf("jwks: no signing key available")
	}
	return best, nil
}

// PublicJWKS returns every key whose verification window has not
// lapsed: the current signing key, plus any rotated key within
// maxVerifyWindow of now.
func (s *Store) PublicJWKS(now time.Time, maxVerifyWindow time.Duration) jose.JSONWebKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := jose.JSONWebKeySet{}
	for _, e := range s.entries {
		if e.RotatedAt == nil || now.Sub(*e.RotatedAt) <= maxVerifyWindow {
			set.Keys = append(set.Keys, e.PublicJWK)
		}
	}
	return set
}

func (s *Store) unwrapPrivateKey(e *Entry) (any, error) {
	raw, err := s.kek.Decrypt([]byte("jwks:"+e.KID), e.PrivateJWK)
	if err != nil {
		return nil, fmt.Errorf("jwks: unwrapping private jwk: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("jwks: unmarshaling private jwk: %w", err)
	}
	return jwk.Key, nil
}

// Sign signs claims with the current signing key and returns the
// compact JWS plus the key ID used.
func (s *Store) Sign(claims any) (token string, kid string, err error) {
	entry, err := s.currentSigningEntry()
	if err != nil {
		return "", "", err
	}
	signingKey, err := s.unwrapPrivateKey(entry)
	if err != nil {
		return "", "", err
	}

	alg := jose.EdDSA
	if entry.Alg == RS256 {
		alg = jose.RS256
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", entry.KID),
	)
	if err != nil {
		return "", "", fmt.Errorf("jwks: creating signer: %w", err)
	}

	token, err = jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", "", fmt.Errorf("jwks: signing jwt: %w", err)
	}
	return token, entry.KID, nil
}
