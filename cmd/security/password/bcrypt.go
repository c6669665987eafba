package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// maxBcryptCost bounds the work an untrusted digest can demand.
const maxBcryptCost = 14

func isBcryptDigest(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func verifyBcrypt(digest, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil || cost > maxBcryptCost {
		return false, ErrInvalidHash
	}
	err = bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}
