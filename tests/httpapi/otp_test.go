package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/httpapi"
	"github.com/darkauth/darkauth/internal/otp"
	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

func newTestDepsWithIssuer(t *testing.T) *httpapi.Deps {
	t.Helper()
	d := newTestDeps(t)
	d.Issuer = "DarkAuth Test"
	return d
}

func TestOTPStatus_NotEnrolled(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDepsWithIssuer(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/user/otp/status", nil), session.Data{Sub: sub})
	w := httptest.NewRecorder()
	d.OTPStatus(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var resp struct {
		Enrolled bool `json:"enrolled"`
		Enabled  bool `json:"enabled"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.False(t, resp.Enrolled)
	assert.False(t, resp.Enabled)
}

func TestOTPEnrollAndVerifyFullRoundTrip(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDepsWithIssuer(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	initReq := withSession(httptest.NewRequest(http.MethodPost, "/api/user/otp/setup/init", nil), sessData)
	initW := httptest.NewRecorder()
	d.OTPSetupInit(initW, initReq)
	require.Equal(t, http.StatusOK, initW.Result().StatusCode)

	var initResp struct {
		OTPAuthURL string `json:"otpAuthUrl"`
	}
	require.NoError(t, json.NewDecoder(initW.Result().Body).Decode(&initResp))
	require.NotEmpty(t, initResp.OTPAuthURL)

	parsed, err := url.Parse(initResp.OTPAuthURL)
	require.NoError(t, err)
	secretParam := parsed.Query().Get("secret")
	require.NotEmpty(t, secretParam)

	code, err := totp.GenerateCode(secretParam, time.Now())
	require.NoError(t, err)

	verifyBody, _ := json.Marshal(map[string]string{"code": code})
	verifyReq := withSession(httptest.NewRequest(http.MethodPost, "/api/user/otp/setup/verify", bytes.NewReader(verifyBody)), sessData)
	verifyW := httptest.NewRecorder()
	d.OTPSetupVerify(verifyW, verifyReq)
	require.Equal(t, http.StatusOK, verifyW.Result().StatusCode)
	var verifyResp struct {
		BackupCodes []string `json:"backupCodes"`
	}
	require.NoError(t, json.NewDecoder(verifyW.Result().Body).Decode(&verifyResp))
	assert.Len(t, verifyResp.BackupCodes, 10)

	statusReq := withSession(httptest.NewRequest(http.MethodGet, "/api/user/otp/status", nil), sessData)
	statusW := httptest.NewRecorder()
	d.OTPStatus(statusW, statusReq)
	var statusResp struct {
		Enrolled bool `json:"enrolled"`
		Enabled  bool `json:"enabled"`
	}
	require.NoError(t, json.NewDecoder(statusW.Result().Body).Decode(&statusResp))
	assert.True(t, statusResp.Enrolled)
	assert.True(t, statusResp.Enabled)

	// login-time verification upgrades the session in place.
	tok, err := d.UserSessions.Create(sub, session.CohortUser, false)
	require.NoError(t, err)

	loginCode, err := totp.GenerateCode(secretParam, time.Now())
	require.NoError(t, err)
	loginVerifyBody, _ := json.Marshal(map[string]string{"code": loginCode})
	loginVerifyReq := withSession(withUserCookie(httptest.NewRequest(http.MethodPost, "/api/user/otp/verify", bytes.NewReader(loginVerifyBody)), tok), sessData)
	loginVerifyW := httptest.NewRecorder()
	d.OTPVerify(loginVerifyW, loginVerifyReq)
	assert.Equal(t, http.StatusNoContent, loginVerifyW.Result().StatusCode)

	updated, err := d.UserSessions.Resolve(session.CohortUser, tok)
	require.NoError(t, err)
	assert.True(t, updated.MFAVerified)
}

func TestOTPSetupVerify_WrongCodeRejected(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDepsWithIssuer(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	initReq := withSession(httptest.NewRequest(http.MethodPost, "/api/user/otp/setup/init", nil), sessData)
	initW := httptest.NewRecorder()
	d.OTPSetupInit(initW, initReq)
	require.Equal(t, http.StatusOK, initW.Result().StatusCode)

	verifyBody, _ := json.Marshal(map[string]string{"code": "000000"})
	verifyReq := withSession(httptest.NewRequest(http.MethodPost, "/api/user/otp/setup/verify", bytes.NewReader(verifyBody)), sessData)
	verifyW := httptest.NewRecorder()
	d.OTPSetupVerify(verifyW, verifyReq)
	assert.Equal(t, http.StatusBadRequest, verifyW.Result().StatusCode)
}

func TestOTPDisable_RemovesFactor(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDepsWithIssuer(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	secret, _, err := otp.Enroll("DarkAuth Test", email)
	require.NoError(t, err)
	require.NoError(t, storage.PutOTPConfig(context.Background(), storage.DB, sub, secret, true))

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/user/otp/disable", nil), sessData)
	w := httptest.NewRecorder()
	d.OTPDisable(w, req)
	assert.Equal(t, http.StatusNoContent, w.Result().StatusCode)

	_, _, err = storage.GetOTPConfig(context.Background(), storage.DB, sub)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
