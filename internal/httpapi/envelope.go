// Package httpapi holds the response envelope shared by every handler.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/darkauth/darkauth/internal/apperr"
)

// errorBody is the wire shape of an error response (spec.md §7).
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes v as the response body with status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("httpapi: failed to encode response body")
	}
}

// WriteError translates err into the error envelope and writes it.
// Unrecognized errors are logged and reported as internal errors without
// leaking their message to the caller.
func WriteError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		log.Error().Err(err).Msg("httpapi: unhandled error")
		ae = apperr.New(apperr.Internal, "internal error")
	}
	if ae.Code == apperr.Internal {
		log.Error().Err(err).Msg("httpapi: internal error")
		WriteJSON(w, ae.Code.HTTPStatus(), errorBody{Error: string(ae.Code), Message: "internal error"})
		return
	}
	WriteJSON(w, ae.Code.HTTPStatus(), errorBody{Error: string(ae.Code), Message: ae.Message, Details: ae.Details})
}

// NoContent writes a 204 with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
