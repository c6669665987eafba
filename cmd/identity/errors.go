package identity

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel kinds; Err optionally carries the underlying cause.
// Msg is human-readable context and must never contain secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ConflictError reports a uniqueness conflict for a logical field
// ("username", "email", "session_token", "invite_code", ...).
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row or referenced resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// RevokedError reports a bearer token whose embedded token version no longer
// matches the user's. It matches both ErrSessionRevoked and ErrUnauthenticated.
type RevokedError struct {
	Op     string
	UserID string
}

func (e RevokedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrSessionRevoked)
}

func (e RevokedError) Unwrap() []error { return []error{ErrSessionRevoked, ErrUnauthenticated} }

// Invalid standardizes invalid input errors.
func Invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// Unavailable wraps a storage or dependency failure so raw driver errors do
// not cross component boundaries.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return OpError{Op: op, Kind: ErrUnavailable, Err: err}
}

// Unauthenticated is the uniform authentication failure.
func Unauthenticated(op string) error {
	return OpError{Op: op, Kind: ErrUnauthenticated}
}

// Forbidden reports a permission denial.
func Forbidden(op, msg string) error {
	return OpError{Op: op, Kind: ErrForbidden, Msg: msg}
}

// InviteInvalid is the single failure for missing, used, expired or mismatched invites.
func InviteInvalid(op string) error {
	return OpError{Op: op, Kind: ErrInviteInvalid}
}

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnauthenticated reports whether err is an authentication failure (revocation included).
func IsUnauthenticated(err error) bool { return errors.Is(err, ErrUnauthenticated) }

// IsRevoked reports whether err is a token-version mismatch.
func IsRevoked(err error) bool { return errors.Is(err, ErrSessionRevoked) }

// IsForbidden reports whether err is an authorization failure.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsInviteInvalid reports whether err is an invite redemption/validation failure.
func IsInviteInvalid(err error) bool { return errors.Is(err, ErrInviteInvalid) }

// IsUnavailable reports whether err wraps a storage/dependency failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }
