package httpapi

import (
	"sync"

	"github.com/darkauth/darkauth/internal/otp"
)

// otpPendingStore holds in-flight TOTP enrollments (secret generated,
// not yet confirmed by a valid code) keyed by sub. It is process-local
// and unpersisted on purpose: an interrupted enrollment is meant to be
// restarted, not resumed after a restart.
type otpPendingStore struct {
	mu      sync.Mutex
	secrets map[string]*otp.Secret
}

func newOTPPendingStore() *otpPendingStore {
	return &otpPendingStore{secrets: make(map[string]*otp.Secret)}
}

func (s *otpPendingStore) put(sub string, secret *otp.Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[sub] = secret
}

func (s *otpPendingStore) take(sub string) (*otp.Secret, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[sub]
	delete(s.secrets, sub)
	return secret, ok
}
