package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/audit"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/opaqueauth"
	"github.com/darkauth/darkauth/internal/pake"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/storage"
)

// Password-change is a three-step dance: prove you still know the
// current password (verify/start+finish, which mints a one-shot reauth
// token), then register a replacement record under that token
// (change/start+finish). password/recovery/verify is the same OPAQUE
// login run against an email instead of an authenticated session's
// sub, used by the client to recompute the old export_key needed to
// rewrap a Data Root Key after the password above has already changed.

type verifyStartRequest struct {
	Request string `json:"request"`
}

type verifyStartResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// PasswordChangeVerifyStart handles POST
// /api/user/password/change/verify/start.
func (d *Deps) PasswordChangeVerifyStart(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req verifyStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.Request)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "request must be base64"))
		return
	}

	message, sessionID, err := d.Auth.VerifyCurrentPasswordStart(r.Context(), d.Pool, data.Sub, blob)
	if err != nil {
		WriteError(w, translatePasswordErr(err))
		return
	}
	WriteJSON(w, http.StatusOK, verifyStartResponse{Message: b64Encode(message), SessionID: sessionID})
}

type verifyFinishRequest struct {
	SessionID string `json:"sessionId"`
	Finish    string `json:"finish"`
}

type verifyFinishResponse struct {
	ReauthToken string `json:"reauthToken"`
}

// PasswordChangeVerifyFinish handles POST
// /api/user/password/change/verify/finish. On success it mints a
// short-lived reauth token bound to the caller's sub; password/change
// will refuse to finalize without one issued in the last 5 minutes.
func (d *Deps) PasswordChangeVerifyFinish(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req verifyFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.Finish)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "finish must be base64"))
		return
	}

	sub, _, err := d.Auth.VerifyCurrentPasswordFinish(req.SessionID, blob)
	ip := ratelimit.ExtractIP(r)
	if err != nil || sub != data.Sub {
		audit.Record(r.Context(), d.Pool, audit.EventPasswordChangeVerifyFailed, &data.Sub, nil, &ip, nil)
		WriteError(w, apperr.New(apperr.Unauthorized, "current password verification failed"))
		return
	}

	token, err := d.Reauth.Issue(data.Sub)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, verifyFinishResponse{ReauthToken: token})
}

type changeStartResponse struct {
	Message   string `json:"message"`
	PendingID string `json:"pendingId"`
}

// PasswordChangeStart handles POST /api/user/password/change/start:
// begins OPAQUE registration of a replacement record. It does not
// itself require a reauth token — only ChangeFinish does — so the
// client can run the (comparatively slow, user-driven) registration
// exchange before the 5-minute reauth window starts ticking.
func (d *Deps) PasswordChangeStart(w http.ResponseWriter, r *http.Request) {
	var req verifyStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.Request)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "request must be base64"))
		return
	}
	message, pendingID, err := d.Auth.ChangeStart(blob)
	if err != nil {
		WriteError(w, translatePasswordErr(err))
		return
	}
	WriteJSON(w, http.StatusOK, changeStartResponse{Message: b64Encode(message), PendingID: pendingID})
}

type changeFinishRequest struct {
	PendingID   string `json:"pendingId"`
	Record      string `json:"record"`
	ReauthToken string `json:"reauthToken"`
}

// PasswordChangeFinish handles POST /api/user/password/change/finish:
// requires a reauth token minted by VerifyCurrentPasswordFinish in the
// last 5 minutes. On success every outstanding refresh token for the
// account is revoked, since a changed password invalidates whatever
// DRK wrap any other still-logged-in session holds.
func (d *Deps) PasswordChangeFinish(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req changeFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	if err := d.Reauth.Consume(req.ReauthToken, data.Sub); err != nil {
		WriteError(w, apperr.New(apperr.Unauthorized, "reauth token missing, expired, or already used"))
		return
	}
	blob, err := b64Decode(req.Record)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "record must be base64"))
		return
	}

	if err := d.Auth.ChangeFinish(r.Context(), d.Pool, req.PendingID, data.Sub, blob); err != nil {
		WriteError(w, translatePasswordErr(err))
		return
	}
	if err := storage.RevokeAllRefreshTokensForUser(r.Context(), d.Pool, data.Sub); err != nil {
		WriteError(w, err)
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventPasswordChanged, &data.Sub, nil, &ip, nil)
	NoContent(w)
}

type recoveryVerifyStartRequest struct {
	Email   string `json:"email"`
	Request string `json:"request"`
}

type recoveryVerifyStartResponse struct {
	Message   string `json:"message"`
	Sub       string `json:"sub"`
	SessionID string `json:"sessionId"`
}

// PasswordRecoveryVerifyStart handles POST
// /api/user/password/recovery/verify/start: an unauthenticated OPAQUE
// login run against email and (usually) the user's *old* password, used
// by the client to recover the export_key needed to rewrap wrapped_drk
// after a password change. It is deliberately the same code path as
// opaque/login/start — including the unknown-email dummy substitution
// — so a recovery attempt against a nonexistent account is
// indistinguishable in shape and timing from one against a real one.
func (d *Deps) PasswordRecoveryVerifyStart(w http.ResponseWriter, r *http.Request) {
	var req recoveryVerifyStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.Request)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "request must be base64"))
		return
	}
	message, sessionID, sub, err := d.Auth.LoginStart(r.Context(), d.Pool, req.Email, blob)
	if err != nil {
		WriteError(w, translatePasswordErr(err))
		return
	}
	WriteJSON(w, http.StatusOK, recoveryVerifyStartResponse{Message: b64Encode(message), Sub: sub, SessionID: sessionID})
}

type recoveryVerifyFinishResponse struct {
	Verified bool `json:"verified"`
}

// PasswordRecoveryVerifyFinish handles POST
// /api/user/password/recovery/verify/finish. The server never learns
// export_key — it only confirms the OPAQUE exchange succeeded; the
// client derives export_key' locally from the agreed session key.
func (d *Deps) PasswordRecoveryVerifyFinish(w http.ResponseWriter, r *http.Request) {
	var req verifyFinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.Finish)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "finish must be base64"))
		return
	}
	if _, _, err := d.Auth.LoginFinish(req.SessionID, blob); err != nil {
		WriteError(w, translatePasswordErr(err))
		return
	}
	WriteJSON(w, http.StatusOK, recoveryVerifyFinishResponse{Verified: true})
}

func translatePasswordErr(err error) error {
	switch {
	case errors.Is(err, pake.ErrUnauthorized):
		return apperr.New(apperr.Unauthorized, "authentication failed")
	case errors.Is(err, opaqueauth.ErrUnknownUser):
		return apperr.New(apperr.Conflict, "account has no credential on record")
	case errors.Is(err, storage.ErrNotFound):
		return apperr.New(apperr.NotFound, "not found")
	default:
		return err
	}
}
