package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth"
)

const opDecode = "authapi.decode"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads exactly one JSON object into dst. On failure it writes the
// 400 response itself and reports false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(w, r, h.cfg.MaxBodyBytes, dst); err != nil {
		auth.WriteError(w, err)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return identity.Invalid(opDecode, "empty body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return identity.Invalid(opDecode, "body too large")
		case errors.Is(err, io.EOF):
			return identity.Invalid(opDecode, "empty body")
		default:
			return identity.Invalid(opDecode, "invalid request body")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return identity.Invalid(opDecode, "trailing data after body")
	}
	return nil
}
