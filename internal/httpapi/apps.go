package httpapi

import (
	"net/http"
	"strings"

	"github.com/darkauth/darkauth/internal/middleware"
	"github.com/darkauth/darkauth/internal/storage"
)

// scopeDescriptions is the fixed vocabulary of scopes DarkAuth itself
// understands. A client requesting a scope outside this map still gets
// a generic description back rather than a missing entry, since the
// consent screen must always render something for every requested
// scope.
var scopeDescriptions = map[string]string{
	"openid":          "Confirm your identity",
	"profile":         "View your basic profile information",
	"email":           "View your email address",
	"offline_access":  "Stay signed in on your behalf",
	"zkd":             "Deliver your encrypted data key to this app",
}

type appView struct {
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
}

type appsResponse struct {
	Apps []appView `json:"apps"`
}

// Apps handles GET /api/user/apps: every client the user currently has
// an active (non-revoked) refresh token against, i.e. has previously
// authorized and can manage from their dashboard.
func (d *Deps) Apps(w http.ResponseWriter, r *http.Request) {
	data, _ := middleware.GetSession(r.Context())
	clientIDs, err := storage.ListAuthorizedClientIDsForUser(r.Context(), d.Pool, data.Sub)
	if err != nil {
		WriteError(w, err)
		return
	}

	apps := make([]appView, 0, len(clientIDs))
	for _, cid := range clientIDs {
		client, err := storage.GetClient(r.Context(), d.Pool, cid)
		if err != nil {
			continue
		}
		apps = append(apps, appView{ClientID: client.ClientID, ClientName: client.ClientName})
	}
	WriteJSON(w, http.StatusOK, appsResponse{Apps: apps})
}

type scopeDescriptionsResponse struct {
	Descriptions map[string]string `json:"descriptions"`
}

// ScopeDescriptions handles GET
// /api/user/scope-descriptions?client_id=&scopes=, rendering the
// consent screen's per-scope copy. client_id is accepted for future
// per-client scope copy overrides but is not currently used to vary
// the description text.
func (d *Deps) ScopeDescriptions(w http.ResponseWriter, r *http.Request) {
	scopes := strings.Fields(r.URL.Query().Get("scopes"))
	out := make(map[string]string, len(scopes))
	for _, s := range scopes {
		if desc, ok := scopeDescriptions[s]; ok {
			out[s] = desc
		} else {
			out[s] = "Access to " + s
		}
	}
	WriteJSON(w, http.StatusOK, scopeDescriptionsResponse{Descriptions: out})
}
