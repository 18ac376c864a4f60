package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/darkauth/darkauth/internal/apperr"
	"github.com/darkauth/darkauth/internal/audit"
	"github.com/darkauth/darkauth/internal/authorize"
	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/ratelimit"
	"github.com/darkauth/darkauth/internal/storage"
	"github.com/darkauth/darkauth/internal/token"
)

type authorizeStartResponse struct {
	RequestID  string          `json:"requestId"`
	ClientName string          `json:"clientName"`
	Scope      string          `json:"scope"`
	HasZK      bool            `json:"hasZk"`
	ZKPub      json.RawMessage `json:"zkPub,omitempty"`
	State      string          `json:"state,omitempty"`
}

// requestOrigin prefers the Origin header, falling back to the origin
// portion of Referer — browsers omit Origin on simple cross-site GET
// navigations but still send Referer, and allowed_zk_origins is only
// meaningful for browser-driven ZKD flows.
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" {
		return o
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Authorize handles GET /authorize: validates the incoming OAuth 2.1
// request and persists it pending the user completing login/consent.
// It does not itself require a session — the frontend decides whether
// to show a login screen or a consent screen based on GET /session.
func (d *Deps) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := authorize.StartInput{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Origin:              requestOrigin(r),
	}
	if zkPub := q.Get("zk_pub"); zkPub != "" {
		in.ZKPub = json.RawMessage(zkPub)
	}

	result, err := authorize.Start(r.Context(), d.Pool, in)
	if err != nil {
		WriteError(w, translateAuthorizeErr(err))
		return
	}

	WriteJSON(w, http.StatusOK, authorizeStartResponse{
		RequestID:  result.RequestID,
		ClientName: result.ClientName,
		Scope:      result.Scope,
		HasZK:      result.HasZK,
		ZKPub:      result.ZKPub,
		State:      result.State,
	})
}

type authorizeFinalizeRequest struct {
	RequestID string `json:"requestId"`
	Approve   bool   `json:"approve"`
	DRKHash   string `json:"drkHash,omitempty"`
	DRKJWE    string `json:"drkJwe,omitempty"`
}

type authorizeFinalizeResponse struct {
	RedirectURI string `json:"redirectUri"`
}

// AuthorizeFinalize handles POST /authorize/finalize. The caller must
// be an authenticated session (and, if the account has MFA enrolled,
// have completed it) before approving or denying on the user's behalf.
// drk_jwe, when present, is appended to the redirect as a URL fragment
// and is never logged or placed in the JSON response body's query
// portion — only the frontend's own navigation ever carries it further.
func (d *Deps) AuthorizeFinalize(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	var req authorizeFinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed request body"))
		return
	}

	user, err := storage.GetUserBySub(r.Context(), d.Pool, data.Sub)
	if err != nil {
		WriteError(w, err)
		return
	}
	if user.PasswordResetRequired {
		WriteError(w, apperr.New(apperr.Forbidden, "password change required before authorizing"))
		return
	}

	result, err := authorize.Finalize(r.Context(), d.Pool, authorize.FinalizeInput{
		RequestID: req.RequestID,
		Sub:       data.Sub,
		Approve:   req.Approve,
		DRKHash:   req.DRKHash,
		DRKJWE:    req.DRKJWE,
	})
	if err != nil {
		WriteError(w, translateAuthorizeErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	redirect := result.RedirectURI
	if result.Denied {
		redirect = fmt.Sprintf("%s?error=access_denied", redirect)
		if result.State != "" {
			redirect = fmt.Sprintf("%s&state=%s", redirect, result.State)
		}
		audit.Record(r.Context(), d.Pool, audit.EventAuthorizeDenied, &data.Sub, nil, &ip, nil)
	} else {
		redirect = fmt.Sprintf("%s?code=%s", redirect, result.Code)
		if result.State != "" {
			redirect = fmt.Sprintf("%s&state=%s", redirect, result.State)
		}
		if result.DRKJWE != "" {
			redirect = fmt.Sprintf("%s#drk_jwe=%s", redirect, result.DRKJWE)
		}
		audit.Record(r.Context(), d.Pool, audit.EventAuthorizeGranted, &data.Sub, nil, &ip, nil)
	}

	WriteJSON(w, http.StatusOK, authorizeFinalizeResponse{RedirectURI: redirect})
}

func translateAuthorizeErr(err error) error {
	switch {
	case errors.Is(err, authorize.ErrInvalidClient):
		return apperr.New(apperr.InvalidRequest, "unknown client")
	case errors.Is(err, authorize.ErrInvalidRedirectURI):
		return apperr.New(apperr.InvalidRequest, "redirect_uri not registered for client")
	case errors.Is(err, authorize.ErrUnsupportedMethod):
		return apperr.New(apperr.InvalidRequest, "unsupported code_challenge_method")
	case errors.Is(err, authorize.ErrPKCERequired):
		return apperr.New(apperr.InvalidRequest, "code_challenge is required")
	case errors.Is(err, authorize.ErrZKPubRequired):
		return apperr.New(apperr.InvalidRequest, "zk_pub is required for this client")
	case errors.Is(err, authorize.ErrOriginNotAllowed):
		return apperr.New(apperr.InvalidRequest, "origin is not allowed for this client")
	case errors.Is(err, authorize.ErrNotPending):
		return apperr.New(apperr.Conflict, "authorization request is no longer pending")
	case errors.Is(err, authorize.ErrDRKProofRequired):
		return apperr.New(apperr.InvalidRequest, "drk_hash and drk_jwe are required")
	case errors.Is(err, authorize.ErrDRKHashMismatch):
		return apperr.New(apperr.InvalidRequest, "drk_hash does not match drk_jwe")
	default:
		return err
	}
}

// Token handles POST /token. Per OAuth 2.1, the request body is
// application/x-www-form-urlencoded, and confidential clients may
// authenticate with HTTP Basic instead of a client_secret form field.
func (d *Deps) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, apperr.New(apperr.InvalidRequest, "malformed form body"))
		return
	}

	req := token.Request{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
	}
	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		req.ClientID = basicID
		req.ClientSecret = basicSecret
	}

	resp, err := token.Exchange(r.Context(), d.Pool, d.Keys, d.TokenCfg, req)
	if err != nil {
		WriteError(w, translateTokenErr(err))
		return
	}

	ip := ratelimit.ExtractIP(r)
	eventType := audit.EventTokenIssued
	if req.GrantType == "refresh_token" {
		eventType = audit.EventTokenRefreshed
	}
	audit.Record(r.Context(), d.Pool, eventType, nil, &req.ClientID, &ip, nil)

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	WriteJSON(w, http.StatusOK, resp)
}

func translateTokenErr(err error) error {
	switch {
	case errors.Is(err, token.ErrUnsupportedGrant):
		return apperr.New(apperr.InvalidRequest, "unsupported grant_type")
	case errors.Is(err, token.ErrInvalidClient):
		return apperr.New(apperr.Unauthorized, "client authentication failed")
	case errors.Is(err, token.ErrInvalidGrant),
		errors.Is(err, token.ErrRedirectMismatch),
		errors.Is(err, token.ErrPKCEMismatch),
		errors.Is(err, token.ErrClientIDMismatch):
		return apperr.New(apperr.InvalidRequest, "invalid grant")
	case errors.Is(err, token.ErrCodeReplayed):
		return apperr.New(apperr.InvalidRequest, "authorization code already used; session revoked")
	default:
		return err
	}
}

// JWKS handles GET /.well-known/jwks.json.
func (d *Deps) JWKS(w http.ResponseWriter, r *http.Request) {
	set := d.Keys.PublicJWKS(time.Now(), d.MaxVerifyWindow)
	WriteJSON(w, http.StatusOK, set)
}

type openIDConfiguration struct {
	Issuer                 string   `json:"issuer"`
	AuthorizationEndpoint  string   `json:"authorization_endpoint"`
	TokenEndpoint          string   `json:"token_endpoint"`
	JWKSURI                string   `json:"jwks_uri"`
	ResponseTypesSupported []string `json:"response_types_supported"`
	GrantTypesSupported    []string `json:"grant_types_supported"`
	SubjectTypesSupported  []string `json:"subject_types_supported"`
	IDTokenSigningAlgs     []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
	CodeChallengeMethods   []string `json:"code_challenge_methods_supported"`
}

// OpenIDConfiguration handles GET /.well-known/openid-configuration.
func (d *Deps) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	alg := "EdDSA"
	if entries := d.Keys.Entries(); len(entries) > 0 {
		alg = string(entries[len(entries)-1].Alg)
	}
	WriteJSON(w, http.StatusOK, openIDConfiguration{
		Issuer:                 d.Issuer,
		AuthorizationEndpoint:  d.Issuer + "/authorize",
		TokenEndpoint:          d.Issuer + "/token",
		JWKSURI:                d.Issuer + "/.well-known/jwks.json",
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgs:     []string{alg},
		ScopesSupported:        []string{"openid", "profile", "email", "offline_access", "zkd"},
		CodeChallengeMethods:   []string{"S256"},
	})
}
