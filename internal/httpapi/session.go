package httpapi

import (
	"errors"
	"net/http"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

type sessionResponse struct {
	Authenticated         bool   `json:"authenticated"`
	Sub                   string `json:"sub,omitempty"`
	Email                 string `json:"email,omitempty"`
	Name                  string `json:"name,omitempty"`
	OTPRequired           bool   `json:"otpRequired,omitempty"`
	OTPVerified           bool   `json:"otpVerified,omitempty"`
	PasswordResetRequired bool   `json:"passwordResetRequired,omitempty"`
}

// Session handles GET /api/user/session. Unlike most routes this one
// never 401s: an absent or expired cookie just reports
// authenticated=false, since the SPA polls it on every page load to
// decide whether to show a login screen.
func (d *Deps) Session(w http.ResponseWriter, r *http.Request) {
	tok, err := session.TokenFromRequest(r, session.CohortUser)
	if err != nil {
		WriteJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	data, err := d.UserSessions.Resolve(session.CohortUser, tok)
	if err != nil {
		WriteJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	user, err := storage.GetUserBySub(r.Context(), d.Pool, data.Sub)
	if err != nil {
		WriteJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	_, otpEnabled, err := storage.GetOTPConfig(r.Context(), d.Pool, data.Sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, sessionResponse{
		Authenticated:         true,
		Sub:                   user.Sub,
		Email:                 user.Email,
		OTPRequired:           otpEnabled,
		OTPVerified:           data.MFAVerified,
		PasswordResetRequired: user.PasswordResetRequired,
	})
}

// Logout handles POST /api/user/logout.
func (d *Deps) Logout(w http.ResponseWriter, r *http.Request) {
	if tok, err := session.TokenFromRequest(r, session.CohortUser); err == nil {
		d.UserSessions.Destroy(session.CohortUser, tok)
	}
	session.ClearCookie(w, session.CohortUser)
	middleware.ClearCSRFCookie(w, r)
	NoContent(w)
}

type refreshTokenResponse struct {
	AccessToken string   `json:"accessToken"`
	OTPRequired bool     `json:"otpRequired"`
	User        userView `json:"user"`
}

// RefreshToken handles POST /api/user/refresh-token. DarkAuth's own
// browser session is a sliding-TTL cookie (Resolve already re-persists
// with a fresh TTL on every read), so this endpoint's job is narrower
// than an OAuth refresh grant: it just re-validates the current session
// and returns a fresh view of it for an SPA that wants to resync state
// after a reconnect, rather than rotating to a new token value.
func (d *Deps) RefreshToken(w http.ResponseWriter, r *http.Request) {
	tok, err := session.TokenFromRequest(r, session.CohortUser)
	if err != nil {
		WriteError(w, apperr.New(apperr.Unauthorized, "no active session"))
		return
	}
	data, err := d.UserSessions.Resolve(session.CohortUser, tok)
	if err != nil {
		WriteError(w, apperr.New(apperr.Unauthorized, "session expired"))
		return
	}
	user, err := storage.GetUserBySub(r.Context(), d.Pool, data.Sub)
	if err != nil {
		WriteError(w, err)
		return
	}
	_, otpEnabled, err := storage.GetOTPConfig(r.Context(), d.Pool, data.Sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, refreshTokenResponse{
		AccessToken: tok,
		OTPRequired: otpEnabled,
		User: userView{
			Sub:           user.Sub,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
		},
	})
}
