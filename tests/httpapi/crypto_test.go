package httpapi_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkauth/darkauth/internal/session"
	"github.com/darkauth/darkauth/internal/storage"
)

func TestGetWrappedDRK_NotProvisionedReturns404(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/user/crypto/wrapped-drk", nil), session.Data{Sub: sub})
	w := httptest.NewRecorder()
	d.GetWrappedDRK(w, req)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestPutAndGetWrappedDRK_RoundTrips(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	blob := base64.StdEncoding.EncodeToString([]byte("opaque-wrapped-drk-bytes"))
	putBody, _ := json.Marshal(map[string]string{"wrappedDrk": blob})
	putReq := withSession(httptest.NewRequest(http.MethodPut, "/api/user/crypto/wrapped-drk", bytes.NewReader(putBody)), sessData)
	putW := httptest.NewRecorder()
	d.PutWrappedDRK(putW, putReq)
	require.Equal(t, http.StatusNoContent, putW.Result().StatusCode)

	getReq := withSession(httptest.NewRequest(http.MethodGet, "/api/user/crypto/wrapped-drk", nil), sessData)
	getW := httptest.NewRecorder()
	d.GetWrappedDRK(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Result().StatusCode)

	var resp struct {
		WrappedDRK string `json:"wrappedDrk"`
	}
	require.NoError(t, json.NewDecoder(getW.Result().Body).Decode(&resp))
	assert.Equal(t, blob, resp.WrappedDRK)
}

func TestPutWrappedDRK_PreservesOtherKeyMaterialFields(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	encPubBody, _ := json.Marshal(map[string]json.RawMessage{
		"encPublicJwk": json.RawMessage(`{"kty":"EC","crv":"P-256","x":"eA","y":"eQ"}`),
	})
	encPubReq := withSession(httptest.NewRequest(http.MethodPut, "/api/user/crypto/enc-pub", bytes.NewReader(encPubBody)), sessData)
	encPubW := httptest.NewRecorder()
	d.PutEncPub(encPubW, encPubReq)
	require.Equal(t, http.StatusNoContent, encPubW.Result().StatusCode)

	drkBlob := base64.StdEncoding.EncodeToString([]byte("some-wrapped-drk"))
	drkBody, _ := json.Marshal(map[string]string{"wrappedDrk": drkBlob})
	drkReq := withSession(httptest.NewRequest(http.MethodPut, "/api/user/crypto/wrapped-drk", bytes.NewReader(drkBody)), sessData)
	drkW := httptest.NewRecorder()
	d.PutWrappedDRK(drkW, drkReq)
	require.Equal(t, http.StatusNoContent, drkW.Result().StatusCode)

	m, err := storage.GetUserKeyMaterial(drkReq.Context(), storage.DB, sub)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kty":"EC","crv":"P-256","x":"eA","y":"eQ"}`, string(m.EncPublicJWK))
	assert.Equal(t, []byte("some-wrapped-drk"), m.WrappedDRK)
}

func TestGetWrappedEncPriv_NotProvisionedReturns404(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/user/crypto/wrapped-enc-priv", nil), session.Data{Sub: sub})
	w := httptest.NewRecorder()
	d.GetWrappedEncPriv(w, req)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestPutAndGetWrappedEncPriv_RoundTrips(t *testing.T) {
	_, cleanup := storage.SetupTestDB(t)
	defer cleanup()
	d := newTestDeps(t)

	email := storage.GenerateID() + "@example.com"
	sub := registerHTTPUser(t, d, email, "whatever password")
	sessData := session.Data{Sub: sub}

	blob := base64.StdEncoding.EncodeToString([]byte("wrapped-enc-private-jwk-bytes"))
	putBody, _ := json.Marshal(map[string]string{"wrappedEncPrivateJwk": blob})
	putReq := withSession(httptest.NewRequest(http.MethodPut, "/api/user/crypto/wrapped-enc-priv", bytes.NewReader(putBody)), sessData)
	putW := httptest.NewRecorder()
	d.PutWrappedEncPriv(putW, putReq)
	require.Equal(t, http.StatusNoContent, putW.Result().StatusCode)

	getReq := withSession(httptest.NewRequest(http.MethodGet, "/api/user/crypto/wrapped-enc-priv", nil), sessData)
	getW := httptest.NewRecorder()
	d.GetWrappedEncPriv(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Result().StatusCode)

	var resp struct {
		WrappedEncPrivateJWK string `json:"wrappedEncPrivateJwk"`
	}
	require.NoError(t, json.NewDecoder(getW.Result().Body).Decode(&resp))
	assert.Equal(t, blob, resp.WrappedEncPrivateJWK)
}
