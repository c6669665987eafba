package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput    = errors.New("invalid_input")
	ErrNotFound        = errors.New("not_found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrSessionRevoked  = errors.New("session_revoked")
	ErrForbidden       = errors.New("forbidden")
	ErrInviteInvalid   = errors.New("invite_invalid")
	ErrUnavailable     = errors.New("unavailable")
)

// kindOrder is the precedence used by KindOf: the most specific kind wins.
var kindOrder = []error{
	ErrSessionRevoked,
	ErrUnauthenticated,
	ErrForbidden,
	ErrInviteInvalid,
	ErrInvalidInput,
	ErrNotFound,
	ErrConflict,
	ErrUnavailable,
}

// KindOf returns the stable label of err's kind ("unauthenticated", ...), or
// "internal" when err carries none. Nil maps to "ok".
func KindOf(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kindOrder {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal"
}
