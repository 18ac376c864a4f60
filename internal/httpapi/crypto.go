package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/storage"
)

// This file's handlers never see a Data Root Key or a user's private
// key in the clear: every payload here is already wrapped client-side
// (internal/clientkit) before it reaches the server, and is stored and
// returned as an opaque blob.

type wrappedDRKResponse struct {
	WrappedDRK string `json:"wrappedDrk"`
}

// GetWrappedDRK handles GET /api/user/crypto/wrapped-drk.
func (d *Deps) GetWrappedDRK(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	m, err := storage.GetUserKeyMaterial(r.Context(), d.Pool, data.Sub)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, apperr.New(apperr.NotFound, "no key material provisioned"))
			return
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, wrappedDRKResponse{WrappedDRK: base64.StdEncoding.EncodeToString(m.WrappedDRK)})
}

type putWrappedDRKRequest struct {
	WrappedDRK string `json:"wrappedDrk"`
}

// PutWrappedDRK handles PUT /api/user/crypto/wrapped-drk, used both at
// first provisioning and whenever the client rewraps the DRK under a
// new key-wrap key (e.g. after a password change).
func (d *Deps) PutWrappedDRK(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req putWrappedDRKRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.WrappedDRK)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "wrappedDrk must be base64"))
		return
	}

	existing, err := storage.GetUserKeyMaterial(r.Context(), d.Pool, data.Sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}
	m := storage.UserKeyMaterial{Sub: data.Sub, WrappedDRK: blob}
	if existing != nil {
		m.EncPublicJWK = existing.EncPublicJWK
		m.WrappedEncPrivateJWK = existing.WrappedEncPrivateJWK
	}
	if err := storage.PutUserKeyMaterial(r.Context(), d.Pool, m); err != nil {
		WriteError(w, err)
		return
	}
	NoContent(w)
}

type putEncPubRequest struct {
	EncPublicJWK json.RawMessage `json:"encPublicJwk"`
}

// PutEncPub handles PUT /api/user/crypto/enc-pub: publishes the user's
// ECDH public key so other users/relying parties can wrap a DEK to
// them (internal/clientkit.ShareDEK's recipient side).
func (d *Deps) PutEncPub(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req putEncPubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	existing, err := storage.GetUserKeyMaterial(r.Context(), d.Pool, data.Sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}
	m := storage.UserKeyMaterial{Sub: data.Sub, EncPublicJWK: req.EncPublicJWK}
	if existing != nil {
		m.WrappedDRK = existing.WrappedDRK
		m.WrappedEncPrivateJWK = existing.WrappedEncPrivateJWK
	}
	if err := storage.PutUserKeyMaterial(r.Context(), d.Pool, m); err != nil {
		WriteError(w, err)
		return
	}
	NoContent(w)
}

type wrappedEncPrivResponse struct {
	WrappedEncPrivateJWK string `json:"wrappedEncPrivateJwk"`
}

// GetWrappedEncPriv handles GET /api/user/crypto/wrapped-enc-priv.
func (d *Deps) GetWrappedEncPriv(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	m, err := storage.GetUserKeyMaterial(r.Context(), d.Pool, data.Sub)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, apperr.New(apperr.NotFound, "no key material provisioned"))
			return
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, wrappedEncPrivResponse{
		WrappedEncPrivateJWK: base64.StdEncoding.EncodeToString(m.WrappedEncPrivateJWK),
	})
}

type putWrappedEncPrivRequest struct {
	WrappedEncPrivateJWK string `json:"wrappedEncPrivateJwk"`
}

// PutWrappedEncPriv handles PUT /api/user/crypto/wrapped-enc-priv.
func (d *Deps) PutWrappedEncPriv(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req putWrappedEncPrivRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}
	blob, err := b64Decode(req.WrappedEncPrivateJWK)
	if err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "wrappedEncPrivateJwk must be base64"))
		return
	}

	existing, err := storage.GetUserKeyMaterial(r.Context(), d.Pool, data.Sub)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		WriteError(w, err)
		return
	}
	m := storage.UserKeyMaterial{Sub: data.Sub, WrappedEncPrivateJWK: blob}
	if existing != nil {
		m.WrappedDRK = existing.WrappedDRK
		m.EncPublicJWK = existing.EncPublicJWK
	}
	if err := storage.PutUserKeyMaterial(r.Context(), d.Pool, m); err != nil {
		WriteError(w, err)
		return
	}
	NoContent(w)
}
