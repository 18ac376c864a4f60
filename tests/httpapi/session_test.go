package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

func withUserCookie(r *http.Request, token string) *http.Request {
	r.AddCookie(&http.Cookie{Name: "__Host-darkauth-user-session", Value: token})
	return r
}

func TestSession_NoCookieReportsUnauthenticated(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	req := httptest.NewRequest(http.MethodGet, "/api/user/session", nil)
	w := httptest.NewRecorder()
	d.Session(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.False(t, resp.Authenticated)
}

func TestSession_ValidCookieReportsUser(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	token, err := d.UserSessions.Create(sub, session.CohortUser, true)
	require.NoError(t, err)

	req := withUserCookie(httptest.NewRequest(http.MethodGet, "/api/user/session", nil), token)
	w := httptest.NewRecorder()
	d.Session(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var resp struct {
		Authenticated bool   `json:"authenticated"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		OTPVerified   bool   `json:"otpVerified"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.True(t, resp.Authenticated)
	assert.Equal(t, sub, resp.Sub)
	assert.Equal(t, email, resp.Email)
	assert.True(t, resp.OTPVerified)
}

func TestSession_ExpiredOrUnknownTokenReportsUnauthenticated(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	req := withUserCookie(httptest.NewRequest(http.MethodGet, "/api/user/session", nil), "not-a-real-token")
	w := httptest.NewRecorder()
	d.Session(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.False(t, resp.Authenticated)
}

func TestLogout_ClearsSessionAndCookie(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	token, err := d.UserSessions.Create(sub, session.CohortUser, true)
	require.NoError(t, err)

	req := withUserCookie(httptest.NewRequest(http.MethodPost, "/api/user/logout", nil), token)
	w := httptest.NewRecorder()
	d.Logout(w, req)
	require.Equal(t, http.StatusNoContent, w.Result().StatusCode)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	sessReq := withUserCookie(httptest.NewRequest(http.MethodGet, "/api/user/session", nil), token)
	sessW := httptest.NewRecorder()
	d.Session(sessW, sessReq)
	var resp struct {
		Authenticated bool `json:"authenticated"`
	}
	require.NoError(t, json.NewDecoder(sessW.Result().Body).Decode(&resp))
	assert.False(t, resp.Authenticated, "destroyed session must not resolve afterward")
}

func TestRefreshToken_NoActiveSessionUnauthorized(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	req := httptest.NewRequest(http.MethodPost, "/api/user/refresh-token", nil)
	w := httptest.NewRecorder()
	d.RefreshToken(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestRefreshToken_ValidSessionReturnsCurrentUser(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	token, err := d.UserSessions.Create(sub, session.CohortUser, true)
	require.NoError(t, err)

	req := withUserCookie(httptest.NewRequest(http.MethodPost, "/api/user/refresh-token", nil), token)
	w := httptest.NewRecorder()
	d.RefreshToken(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)
	var resp struct {
		AccessToken string `json:"accessToken"`
		User        struct {
			Sub   string `json:"sub"`
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&resp))
	assert.Equal(t, token, resp.AccessToken)
	assert.Equal(t, sub, resp.User.Sub)
	assert.Equal(t, email, resp.User.Email)
}
