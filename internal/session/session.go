// Package session manages DarkAuth's own browser sessions: the
// cookie-bound session an end user or admin holds after completing
// login (and, for sensitive admin operations, MFA), as distinct from
// the OAuth tokens DarkAuth issues to relying-party clients. Cookie
// naming and attributes follow internal/middleware's CSRF cookie
// conventions (Secure/SameSite/HttpOnly handling); the TTL-swept
// storage layer reuses internal/pake's MemStore/RedisStore Store
// interface so both subsystems share one storage idiom.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/darkauth/darkauth/internal/pake"
)

// Cohort distinguishes a user-facing session from an admin session, so
// the two never share a cookie name or a storage namespace.
type Cohort string

const (
	CohortUser  Cohort = "user"
	CohortAdmin Cohort = "admin"
)

const (
	// UserCookieName and AdminCookieName are prefixed the way a
	// same-origin, HTTPS-only cookie should be: __Host- binds the
	// cookie to this exact host with no Domain attribute and Path=/,
	// so it cannot be set or overridden by a subdomain.
	UserCookieName  = "__Host-darkauth-user-session"
	AdminCookieName = "__Host-darkauth-admin-session"

	DefaultTTL = 24 * time.Hour
	ReauthTTL  = 5 * time.Minute
)

var ErrNotFound = errors.New("session: not found or expired")

// Data is what a session token resolves to.
type Data struct {
	Sub        string    `json:"sub"`
	Cohort     Cohort    `json:"cohort"`
	MFAVerified bool     `json:"mfa_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store issues and resolves session tokens against a pake.Store
// backend (MemStore for single-instance, RedisStore otherwise).
type Store struct {
	backend pake.Store
	ttl     time.Duration
}

func NewStore(backend pake.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, ttl: ttl}
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Create issues a new session token and persists its Data. Unlike
// pake's single-use login sessions, a session token survives repeated
// reads; it is only removed by Destroy or TTL expiry.
func (s *Store) Create(sub string, cohort Cohort, mfaVerified bool) (token string, err error) {
	token, err = newToken()
	if err != nil {
		return "", err
	}
	data := Data{Sub: sub, Cohort: cohort, MFAVerified: mfaVerified, CreatedAt: time.Now()}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("session: marshaling session data: %w", err)
	}
	s.backend.Put(sessionKey(cohort, token), raw, s.ttl)
	return token, nil
}

// Resolve looks up a session without consuming it. Sessions are
// multi-read (a Store.Take-style single-use semantic would break every
// page load), so Resolve is read-only at the application layer even
// though the underlying pake.Store API exposes Take; Resolve
// re-inserts the value with a fresh TTL to approximate a read-through
// cache and keep an active session alive.
func (s *Store) Resolve(cohort Cohort, token string) (Data, error) {
	raw, ok := s.backend.Take(sessionKey(cohort, token))
	if !ok {
		return Data{}, ErrNotFound
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, fmt.Errorf("session: unmarshaling session data: %w", err)
	}
	s.backend.Put(sessionKey(cohort, token), raw, s.ttl)
	return data, nil
}

// Destroy invalidates a session token immediately (logout).
func (s *Store) Destroy(cohort Cohort, token string) {
	s.backend.Take(sessionKey(cohort, token))
}

// MarkMFAVerified re-persists Data with MFAVerified set, used once a
// user completes a TOTP/backup-code challenge mid-session.
func (s *Store) MarkMFAVerified(cohort Cohort, token string, data Data) error {
	data.MFAVerified = true
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: marshaling session data: %w", err)
	}
	s.backend.Put(sessionKey(cohort, token), raw, s.ttl)
	return nil
}

func sessionKey(cohort Cohort, token string) string {
	return fmt.Sprintf("session:%s:%s", cohort, token)
}

func cookieNameFor(cohort Cohort) string {
	if cohort == CohortAdmin {
		return AdminCookieName
	}
	return UserCookieName
}

// SetCookie writes the session cookie with __Host- semantics: Secure,
// HttpOnly, SameSite=Lax (Strict would break the OAuth redirect back
// from a relying party), Path=/, no Domain attribute.
func SetCookie(w http.ResponseWriter, cohort Cohort, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieNameFor(cohort),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// ClearCookie removes the session cookie, e.g. on logout.
func ClearCookie(w http.ResponseWriter, cohort Cohort) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieNameFor(cohort),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// TokenFromRequest reads the cohort's session cookie, returning
// ("", http.ErrNoCookie) when absent.
func TokenFromRequest(r *http.Request, cohort Cohort) (string, error) {
	cookie, err := r.Cookie(cookieNameFor(cohort))
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// ReauthToken is a short-lived, single-use token issued by the
// password-change flow once the current password has been re-verified
// (PasswordChangeVerifyFinish), and consumed by PasswordChangeFinish.
type ReauthToken struct {
	backend pake.Store
}

func NewReauthToken(backend pake.Store) *ReauthToken {
	return &ReauthToken{backend: backend}
}

// Issue creates a single-use reauth token bound to sub, valid for ReauthTTL.
func (rt *ReauthToken) Issue(sub string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	rt.backend.Put("reauth:"+token, []byte(sub), ReauthTTL)
	return token, nil
}

// Consume validates and single-use-consumes a reauth token for sub.
func (rt *ReauthToken) Consume(token, sub string) error {
	raw, ok := rt.backend.Take("reauth:" + token)
	if !ok {
		return ErrNotFound
	}
	if string(raw) != sub {
		return ErrNotFound
	}
	return nil
}
