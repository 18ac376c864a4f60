// Package httpapi wires every domain service (OPAQUE auth, OAuth
// authorization/token issuance, OTP, client registry, JWKS) to the HTTP
// surface spec.md §6 defines. Deps is the one dependency-injection
// struct every handler closes over, following the teacher's pattern of
// handler-constructor functions capturing a pool and collaborators
// rather than a global mutable singleton per concern.
package httpapi

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkauth/darkauth/internal/jwks"
	"github.com/darkauth/darkauth/internal/opaqueauth"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/token"
)

// Deps bundles every collaborator DarkAuth's HTTP handlers need.
type Deps struct {
	Pool *pgxpool.Pool

	Keys          *jwks.Store
	Auth          *opaqueauth.Service
	UserSessions  *session.Store
	AdminSessions *session.Store
	Reauth        *session.ReauthToken

	TokenCfg token.Config

	LoginLockout *ratelimit.AccountLockout
	OTPLockout   *ratelimit.AccountLockout
	LoginLimiter ratelimit.Limiter

	Issuer       string
	PublicOrigin string

	// MaxVerifyWindow bounds how long a rotated signing key remains in
	// the published JWKS document after Rotate marks it superseded.
	MaxVerifyWindow time.Duration
}
