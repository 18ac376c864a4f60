package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/audit"
	"github.com/darkauth/darkauth/internal/config"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/opaqueauth"
	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

func b64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func b64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

type opaqueRegisterStartRequest struct {
	Request string `json:"request"`
}

type opaqueRegisterStartResponse struct {
	Message         string `json:"message"`
	ServerPublicKey string `json:"serverPublicKey"`
	PendingID       string `json:"pendingId"`
}

// OpaqueRegisterStart handles POST /api/user/opaque/register/start. The
// server's OPAQUE "message" already commits the registration response;
// serverPublicKey is exposed as the same value, since internal/pake's
// engine does not hold a long-term public key distinct from its
// per-registration commitment.
func (d *Deps) OpaqueRegisterStart(w http.ResponseWriter, r *http.Request) {
	if !config.SelfRegistrationEnabled() {
		WriteError(w, apperr.New(apperr.Forbidden, "self-registration is disabled"))
		return
	}
	var req opaqueRegisterStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	reqBytes, err := b64Decode(req.Request)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "request must be base64"))
		return
	}
	msg, pendingID, err := d.Auth.RegisterStart(reqBytes)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "invalid opaque registration request"))
		return
	}
	WriteJSON(w, http.StatusOK, opaqueRegisterStartResponse{
		Message:         b64Encode(msg),
		ServerPublicKey: b64Encode(msg),
		PendingID:       pendingID,
	})
}

type opaqueRegisterFinishRequest struct {
	PendingID string `json:"pendingId"`
	Email     string `json:"email"`
	Record    string `json:"record"`
}

type opaqueRegisterFinishResponse struct {
	Sub                       string `json:"sub"`
	AccessToken               string `json:"accessToken"`
	RequiresEmailVerification bool   `json:"requiresEmailVerification,omitempty"`
}

// OpaqueRegisterFinish handles POST /api/user/opaque/register/finish.
func (d *Deps) OpaqueRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if !config.SelfRegistrationEnabled() {
		WriteError(w, apperr.New(apperr.Forbidden, "self-registration is disabled"))
		return
	}
	var req opaqueRegisterFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	recordBytes, err := b64Decode(req.Record)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "record must be base64"))
		return
	}

	sub, err := d.Auth.RegisterFinish(r.Context(), d.Pool, req.PendingID, req.Email, recordBytes)
	if err != nil {
		switch {
		case errors.Is(err, opaqueauth.ErrEmailTaken):
			WriteError(w, apperr.New(apperr.Conflict, "email already registered"))
		case errors.Is(err, pake.ErrUnauthorized):
			WriteError(w, apperr.New(apperr.InvalidRequest, "registration session expired, start again"))
		default:
			WriteError(w, err)
		}
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventUserRegistered, &sub, nil, &ip, nil)

	token, err := d.UserSessions.Create(sub, session.CohortUser, true)
	if err != nil {
		WriteError(w, err)
		return
	}
	session.SetCookie(w, session.CohortUser, token, session.DefaultTTL)
	if err := middleware.SetCSRFCookie(w, r); err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, opaqueRegisterFinishResponse{
		Sub:                       sub,
		AccessToken:               token,
		RequiresEmailVerification: config.EmailVerificationRequired(),
	})
}

type opaqueLoginStartRequest struct {
	Email   string `json:"email"`
	Request string `json:"request"`
}

type opaqueLoginStartResponse struct {
	Message   string `json:"message"`
	Sub       string `json:"sub"`
	SessionID string `json:"sessionId"`
}

// OpaqueLoginStart handles POST /api/user/opaque/login/start.
func (d *Deps) OpaqueLoginStart(w http.ResponseWriter, r *http.Request) {
	var req opaqueLoginStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	ip := ratelimit.ExtractIP(r)
	if d.LoginLockout != nil {
		if res := d.LoginLockout.Check(req.Email); res.Locked {
			WriteError(w, apperr.New(apperr.Locked, "too many failed attempts, try again later"))
			return
		}
	}
	if d.LoginLimiter != nil {
		if res := ratelimit.CheckWithConfig(d.LoginLimiter, ip, ratelimit.DefaultConfig()); !res.Allowed {
			WriteError(w, apperr.New(apperr.RateLimited, "too many requests"))
			return
		}
	}

	reqBytes, err := b64Decode(req.Request)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "request must be base64"))
		return
	}

	msg, sessionID, sub, err := d.Auth.LoginStart(r.Context(), d.Pool, req.Email, reqBytes)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, opaqueLoginStartResponse{
		Message:   b64Encode(msg),
		Sub:       sub,
		SessionID: sessionID,
	})
}

type opaqueLoginFinishRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Finish    string `json:"finish"`
}

type userView struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
}

type opaqueLoginFinishResponse struct {
	Sub         string   `json:"sub"`
	AccessToken string   `json:"accessToken"`
	OTPRequired bool     `json:"otpRequired"`
	User        userView `json:"user"`
}

// OpaqueLoginFinish handles POST /api/user/opaque/login/finish. A
// session cookie is always minted; MFAVerified starts false whenever
// the account has an enrolled OTP factor. Until /otp/verify succeeds,
// only routes behind RequireMFAVerified (authorize/finalize and the
// admin step-up routes) refuse the session; other session routes
// accept it.
func (d *Deps) OpaqueLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req opaqueLoginFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	finishBytes, err := b64Decode(req.Finish)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "finish must be base64"))
		return
	}

	ip := ratelimit.ExtractIP(r)
	sub, _, err := d.Auth.LoginFinish(req.SessionID, finishBytes)
	if err != nil {
		if d.LoginLockout != nil {
			d.LoginLockout.RecordFailure(req.Email)
		}
		audit.Record(r.Context(), d.Pool, audit.EventLoginFailed, nil, nil, &ip, map[string]string{"email": req.Email})
		WriteError(w, apperr.New(apperr.Unauthorized, "invalid credentials"))
		return
	}
	if d.LoginLockout != nil {
		d.LoginLockout.RecordSuccess(req.Email)
	}

	user, err := storage.GetUserBySub(r.Context(), d.Pool, sub)
	if err != nil {
		WriteError(w, err)
		return
	}

	_, otpEnabled, err := storage.GetOTPConfig(r.Context(), d.Pool, sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}

	token, err := d.UserSessions.Create(sub, session.CohortUser, !otpEnabled)
	if err != nil {
		WriteError(w, err)
		return
	}
	session.SetCookie(w, session.CohortUser, token, session.DefaultTTL)
	if err := middleware.SetCSRFCookie(w, r); err != nil {
		WriteError(w, err)
		return
	}

	audit.Record(r.Context(), d.Pool, audit.EventLoginSucceeded, &sub, nil, &ip, nil)

	WriteJSON(w, http.StatusOK, opaqueLoginFinishResponse{
		Sub:         sub,
		AccessToken: token,
		OTPRequired: otpEnabled,
		User: userView{
			Sub:           user.Sub,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
		},
	})
}
