package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// HTTPStatus maps an error from this subsystem to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case identity.IsUnauthenticated(err):
		return http.StatusUnauthorized
	case identity.IsForbidden(err):
		return http.StatusForbidden
	case identity.IsInviteInvalid(err), identity.IsInvalidInput(err):
		return http.StatusBadRequest
	case identity.IsNotFound(err):
		return http.StatusNotFound
	case identity.IsConflict(err):
		return http.StatusConflict
	case identity.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode is the stable "error" value of a JSON error body. Revoked,
// expired and malformed tokens share "unauthorized".
func ErrorCode(err error) string {
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadRequest:
		if identity.IsInviteInvalid(err) {
			return "invite_invalid"
		}
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		var ce identity.ConflictError
		if errors.As(err, &ce) && ce.Field != "" {
			return ce.Field + "_taken"
		}
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON error response.
func WriteError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="espaco"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: ErrorCode(err)})
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
