package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/audit"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/otp"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

type otpStatusResponse struct {
	Enrolled bool `json:"enrolled"`
	Enabled  bool `json:"enabled"`
}

// OTPStatus handles GET /api/user/otp/status.
func (d *Deps) OTPStatus(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	_, enabled, err := storage.GetOTPConfig(r.Context(), d.Pool, data.Sub)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteJSON(w, http.StatusOK, otpStatusResponse{})
			return
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, otpStatusResponse{Enrolled: true, Enabled: enabled})
}

type otpSetupInitResponse struct {
	OTPAuthURL string `json:"otpAuthUrl"`
}

// otpPendingSecrets holds an in-flight (not-yet-verified) enrollment in
// memory, keyed by sub, until /otp/setup/verify confirms the user's
// authenticator app produces a matching code.
var otpPendingSecrets = newOTPPendingStore()

// OTPSetupInit handles POST /api/user/otp/setup/init.
func (d *Deps) OTPSetupInit(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	user, err := storage.GetUserBySub(r.Context(), d.Pool, data.Sub)
	if err != nil {
		WriteError(w, err)
		return
	}

	secret, url, err := otp.Enroll(d.Issuer, user.Email)
	if err != nil {
		WriteError(w, err)
		return
	}
	otpPendingSecrets.put(data.Sub, secret)

	WriteJSON(w, http.StatusOK, otpSetupInitResponse{OTPAuthURL: url})
}

type otpCodeRequest struct {
	Code string `json:"code"`
}

// OTPSetupVerify handles POST /api/user/otp/setup/verify: confirms the
// pending secret and activates it.
func (d *Deps) OTPSetupVerify(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req otpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	secret, ok := otpPendingSecrets.take(data.Sub)
	if !ok {
		WriteError(w, apperr.New(apperr.InvalidRequest, "no pending otp enrollment, call setup/init first"))
		return
	}
	if !otp.VerifyEnrollment(secret, req.Code) {
		WriteError(w, apperr.New(apperr.InvalidRequest, "invalid verification code"))
		return
	}

	codes, hashes, err := otp.RegenerateBackupCodes()
	if err != nil {
		WriteError(w, err)
		return
	}
	secret.BackupCodeHashes = hashes

	if err := storage.PutOTPConfig(r.Context(), d.Pool, data.Sub, secret, true); err != nil {
		WriteError(w, err)
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventMFAEnrolled, &data.Sub, nil, &ip, nil)
	WriteJSON(w, http.StatusOK, otpBackupCodesResponse{BackupCodes: codes})
}

// OTPVerify handles POST /api/user/otp/verify: the step-up challenge
// completed after login when the account has MFA enrolled. On success
// the session is upgraded in place so subsequent requests pass
// RequireMFAVerified.
func (d *Deps) OTPVerify(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req otpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	secret, enabled, err := storage.GetOTPConfig(r.Context(), d.Pool, data.Sub)
	if err != nil || !enabled {
		WriteError(w, apperr.New(apperr.InvalidRequest, "no active otp factor"))
		return
	}

	usedBackup, verr := otp.Verify(d.OTPLockout, data.Sub, req.Code, secret)
	if verr != nil {
		ip := ratelimit.ExtractIP(r)
		audit.Record(r.Context(), d.Pool, audit.EventMFAFailed, &data.Sub, nil, &ip, nil)
		if errors.Is(verr, otp.ErrLocked) {
			WriteError(w, apperr.New(apperr.Locked, "too many failed codes, try again later"))
			return
		}
		WriteError(w, apperr.New(apperr.InvalidRequest, "invalid code"))
		return
	}
	if usedBackup {
		if err := storage.PutOTPConfig(r.Context(), d.Pool, data.Sub, secret, true); err != nil {
			WriteError(w, err)
			return
		}
	}

	tok, err := session.TokenFromRequest(r, session.CohortUser)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := d.UserSessions.MarkMFAVerified(session.CohortUser, tok, data); err != nil {
		WriteError(w, err)
		return
	}

	ip := ratelimit.ExtractIP(r)
	if usedBackup {
		audit.Record(r.Context(), d.Pool, audit.EventMFABackupCodeUsed, &data.Sub, nil, &ip, nil)
	}
	audit.Record(r.Context(), d.Pool, audit.EventMFAVerified, &data.Sub, nil, &ip, nil)
	NoContent(w)
}

// OTPDisable handles POST /api/user/otp/disable. It runs behind
// RequireSession and CSRF protection only: neither a completed MFA
// challenge nor a reauth token is checked before the factor is deleted.
func (d *Deps) OTPDisable(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	if err := storage.DeleteOTPConfig(r.Context(), d.Pool, data.Sub); err != nil {
		WriteError(w, err)
		return
	}
	NoContent(w)
}

type otpBackupCodesResponse struct {
	BackupCodes []string `json:"backupCodes"`
}

// OTPBackupCodesRegenerate handles POST
// /api/user/otp/backup-codes/regenerate. It runs behind RequireSession
// and CSRF protection only (no MFA challenge or reauth token is
// checked); every previously issued backup code is invalidated.
func (d *Deps) OTPBackupCodesRegenerate(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	secret, enabled, err := storage.GetOTPConfig(r.Context(), d.Pool, data.Sub)
	if err != nil || !enabled {
		WriteError(w, apperr.New(apperr.InvalidRequest, "no active otp factor"))
		return
	}

	codes, hashes, err := otp.RegenerateBackupCodes()
	if err != nil {
		WriteError(w, err)
		return
	}
	secret.BackupCodeHashes = hashes
	if err := storage.PutOTPConfig(r.Context(), d.Pool, data.Sub, secret, true); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, otpBackupCodesResponse{BackupCodes: codes})
}
