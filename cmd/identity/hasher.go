package identity

import "context"

// Hasher is the opaque password-digest capability.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(digest, plain string) (bool, error)
}

// VerifyCredential checks plain against the user's stored digest.
// A digest the hasher cannot parse is reported as a mismatch, never as a
// distinct error, so callers cannot leak account state.
func VerifyCredential(ctx context.Context, h Hasher, u User, plain string) bool {
	if h == nil || ctx.Err() != nil || u.PasswordDigest == "" {
		return false
	}
	ok, err := h.Verify(u.PasswordDigest, plain)
	return err == nil && ok
}

// PolicyChecker is implemented by hashers that enforce a password policy.
type PolicyChecker interface {
	Validate(plain string) error
}

// Rehasher is implemented by hashers that can tell a stale digest apart.
type Rehasher interface {
	NeedsRehash(digest string) bool
}

// HashPassword hashes plain with h. Policy rejections are reported as
// ErrInvalidInput; any other hashing failure as ErrUnavailable.
func HashPassword(op string, h Hasher, plain string) (string, error) {
	if h == nil {
		return "", OpError{Op: op, Kind: ErrUnavailable, Msg: "no password hasher"}
	}
	if pc, ok := h.(PolicyChecker); ok {
		if err := pc.Validate(plain); err != nil {
			return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "password rejected", Err: err}
		}
	}
	digest, err := h.Hash(plain)
	if err != nil {
		return "", Unavailable(op, err)
	}
	return digest, nil
}
