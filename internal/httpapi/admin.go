package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/audit"
	"github.com/darkauth/darkauth/internal/clientregistry"
	"github.com/darkauth/darkauth/internal/jwks"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/storage"
)

// Admin client-registry, user-listing, JWKS, and OTP-unlock endpoints.
// Groups, roles, and org-membership administration named in spec.md
// §6's admin API are deliberately out of scope here: DarkAuth's admin
// surface is an identity-provider console, not a full multi-tenant
// directory, and nothing in this repo's domain model (clients, users,
// jwks, otp) exercises group/role/org concepts. See DESIGN.md.

type registerClientRequest struct {
	ClientName             string          `json:"clientName"`
	IsPublic               bool            `json:"isPublic"`
	RedirectURIs           []string        `json:"redirectUris"`
	PostLogoutRedirectURIs []string        `json:"postLogoutRedirectUris,omitempty"`
	AllowedZKOrigins       []string        `json:"allowedZkOrigins,omitempty"`
	RequirePKCE            *bool           `json:"requirePkce,omitempty"`
	ZKDEncPublicJWK        json.RawMessage `json:"zkdEncPublicJwk,omitempty"`
	ZKRequired             *bool           `json:"zkRequired,omitempty"`
	AllowedJWEAlgs         []string        `json:"allowedJweAlgs,omitempty"`
	AllowedJWEEncs         []string        `json:"allowedJweEncs,omitempty"`
	ResponseTypes          []string        `json:"responseTypes,omitempty"`
	Scopes                 json.RawMessage `json:"scopes,omitempty"`
	IDTokenLifetimeS       *int            `json:"idTokenLifetimeS,omitempty"`
	RefreshTokenLifetimeS  *int            `json:"refreshTokenLifetimeS,omitempty"`
}

// updateClientRequest is the PATCH body of PUT /api/admin/clients/{clientId}.
// Every field is optional; an absent field leaves that part of the
// client's policy unchanged.
type updateClientRequest struct {
	ClientName             *string         `json:"clientName,omitempty"`
	RedirectURIs           []string        `json:"redirectUris,omitempty"`
	PostLogoutRedirectURIs []string        `json:"postLogoutRedirectUris,omitempty"`
	AllowedZKOrigins       []string        `json:"allowedZkOrigins,omitempty"`
	RequirePKCE            *bool           `json:"requirePkce,omitempty"`
	ZKDEncPublicJWK        json.RawMessage `json:"zkdEncPublicJwk,omitempty"`
	ZKDelivery             *string         `json:"zkDelivery,omitempty"`
	ZKRequired             *bool           `json:"zkRequired,omitempty"`
	AllowedJWEAlgs         []string        `json:"allowedJweAlgs,omitempty"`
	AllowedJWEEncs         []string        `json:"allowedJweEncs,omitempty"`
	ResponseTypes          []string        `json:"responseTypes,omitempty"`
	Scopes                 json.RawMessage `json:"scopes,omitempty"`
	IDTokenLifetimeS       *int            `json:"idTokenLifetimeS,omitempty"`
	RefreshTokenLifetimeS  *int            `json:"refreshTokenLifetimeS,omitempty"`
}

type registerClientResponse struct {
	Client       *storage.Client `json:"client"`
	ClientSecret string          `json:"clientSecret,omitempty"`
}

// AdminCreateClient handles POST /api/admin/clients.
func (d *Deps) AdminCreateClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	result, err := clientregistry.Register(r.Context(), d.Pool, clientregistry.RegisterInput{
		ClientName:             req.ClientName,
		IsPublic:               req.IsPublic,
		RedirectURIs:           req.RedirectURIs,
		PostLogoutRedirectURIs: req.PostLogoutRedirectURIs,
		AllowedZKOrigins:       req.AllowedZKOrigins,
		RequirePKCE:            req.RequirePKCE,
		ZKDEncPublicJWK:        req.ZKDEncPublicJWK,
		ZKRequired:             req.ZKRequired,
		AllowedJWEAlgs:         req.AllowedJWEAlgs,
		AllowedJWEEncs:         req.AllowedJWEEncs,
		ResponseTypes:          req.ResponseTypes,
		Scopes:                 req.Scopes,
		IDTokenLifetimeS:       req.IDTokenLifetimeS,
		RefreshTokenLifetimeS:  req.RefreshTokenLifetimeS,
	})
	if err != nil {
		WriteError(w, translateClientRegistryErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventClientRegistered, nil, &result.Client.ClientID, &ip, nil)

	WriteJSON(w, http.StatusCreated, registerClientResponse{Client: result.Client, ClientSecret: result.ClientSecret})
}

// AdminListClients handles GET /api/admin/clients.
func (d *Deps) AdminListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := clientregistry.List(r.Context(), d.Pool)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		Clients []*storage.Client `json:"clients"`
	}{Clients: clients})
}

// AdminGetClient handles GET /api/admin/clients/{clientId}.
func (d *Deps) AdminGetClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	client, err := clientregistry.Get(r.Context(), d.Pool, clientID)
	if err != nil {
		WriteError(w, translateClientRegistryErr(err))
		return
	}
	WriteJSON(w, http.StatusOK, client)
}

// AdminUpdateClient handles PUT /api/admin/clients/{clientId}: a
// partial update to a client's policy (redirect URIs, PKCE/ZKD
// requirements, scope vocabulary, token lifetimes). Secret rotation
// has its own endpoint since it has a plaintext-once-return contract
// AdminUpdateClient must not share.
func (d *Deps) AdminUpdateClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	var req updateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	updated, err := clientregistry.Update(r.Context(), d.Pool, clientID, clientregistry.UpdateInput{
		ClientName:             req.ClientName,
		RedirectURIs:           req.RedirectURIs,
		PostLogoutRedirectURIs: req.PostLogoutRedirectURIs,
		AllowedZKOrigins:       req.AllowedZKOrigins,
		RequirePKCE:            req.RequirePKCE,
		ZKDEncPublicJWK:        req.ZKDEncPublicJWK,
		ZKDelivery:             req.ZKDelivery,
		ZKRequired:             req.ZKRequired,
		AllowedJWEAlgs:         req.AllowedJWEAlgs,
		AllowedJWEEncs:         req.AllowedJWEEncs,
		ResponseTypes:          req.ResponseTypes,
		Scopes:                 req.Scopes,
		IDTokenLifetimeS:       req.IDTokenLifetimeS,
		RefreshTokenLifetimeS:  req.RefreshTokenLifetimeS,
	})
	if err != nil {
		WriteError(w, translateClientRegistryErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventClientUpdated, nil, &clientID, &ip, nil)

	WriteJSON(w, http.StatusOK, updated)
}

type rotateSecretResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// AdminRotateClientSecret handles POST
// /api/admin/clients/{clientId}/rotate-secret. Requires a
// step-up-verified admin session: client secret rotation invalidates
// every deployment using the old secret, so it must be deliberate.
func (d *Deps) AdminRotateClientSecret(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	secret, err := clientregistry.RotateSecret(r.Context(), d.Pool, clientID)
	if err != nil {
		WriteError(w, translateClientRegistryErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventClientSecretRotated, nil, &clientID, &ip, nil)

	WriteJSON(w, http.StatusOK, rotateSecretResponse{ClientSecret: secret})
}

// AdminDeregisterClient handles DELETE /api/admin/clients/{clientId}.
func (d *Deps) AdminDeregisterClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientId")
	if err := clientregistry.Deregister(r.Context(), d.Pool, clientID); err != nil {
		WriteError(w, translateClientRegistryErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventClientDeregistered, nil, &clientID, &ip, nil)
	NoContent(w)
}

func translateClientRegistryErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.New(apperr.NotFound, "client not found")
	case errors.Is(err, storage.ErrConflict):
		return apperr.New(apperr.Conflict, "client already exists")
	case errors.Is(err, clientregistry.ErrNoRedirectURIs):
		return apperr.New(apperr.InvalidRequest, "at least one redirect_uri is required")
	case errors.Is(err, clientregistry.ErrInvalidRedirectURI):
		return apperr.New(apperr.InvalidRequest, "redirect_uri is invalid")
	case errors.Is(err, clientregistry.ErrNoSecret):
		return apperr.New(apperr.InvalidRequest, "public clients have no secret to rotate")
	case errors.Is(err, storage.ErrInvalidClientPolicy):
		return apperr.New(apperr.InvalidRequest, err.Error())
	default:
		return err
	}
}

type rotateJWKSResponse struct {
	KID string `json:"kid"`
	Alg string `json:"alg"`
}

// AdminRotateJWKS handles POST /api/admin/jwks/rotate: generates a new
// signing key of the same algorithm as the newest key in the store
// (EdDSA when the store is empty) and marks the previous one
// verify-only.
func (d *Deps) AdminRotateJWKS(w http.ResponseWriter, r *http.Request) {
	alg := jwks.EdDSA
	if entries := d.Keys.Entries(); len(entries) > 0 {
		alg = entries[len(entries)-1].Alg
	}

	entry, err := d.Keys.Rotate(alg)
	if err != nil {
		WriteError(w, err)
		return
	}
	// Persist every entry: the freshly generated one (insert) and every
	// previously-current entry Rotate just marked superseded (rotated_at
	// update), since PutJWKSEntry upserts on kid.
	for _, e := range d.Keys.Entries() {
		if err := storage.PutJWKSEntry(r.Context(), d.Pool, e); err != nil {
			WriteError(w, err)
			return
		}
	}

	ip := ratelimit.ExtractIP(r)
	audit.Record(r.Context(), d.Pool, audit.EventJWKSRotated, nil, nil, &ip, map[string]string{"kid": entry.KID})

	WriteJSON(w, http.StatusOK, rotateJWKSResponse{KID: entry.KID, Alg: string(entry.Alg)})
}

// AdminListUsers handles GET /api/admin/users.
func (d *Deps) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := storage.ListUsers(r.Context(), d.Pool, 0)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		Users []*storage.User `json:"users"`
	}{Users: users})
}

// AdminUnlockOTP handles POST /api/admin/users/{sub}/otp/unlock,
// clearing a locked-out account's failed-attempt counter without
// disabling the enrolled factor itself.
func (d *Deps) AdminUnlockOTP(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "sub")
	if d.OTPLockout != nil {
		d.OTPLockout.RecordSuccess(sub)
	}
	if d.LoginLockout != nil {
		d.LoginLockout.RecordSuccess(sub)
	}
	NoContent(w)
}
