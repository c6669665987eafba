package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "ESPACO_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the minimum key size accepted when HMAC is required.
	MinHMACKeyBytes = 32

	// DefaultOpaqueBytes is the entropy of a session token.
	DefaultOpaqueBytes = 32
)

// Key policy failures reported by HasherFromEnv.
var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is required but not set")
	ErrHMACKeyTooShort = fmt.Errorf("token: %s shorter than %d bytes", HMACEnvKey, MinHMACKeyBytes)
)

// NewOpaque returns a URL-safe random token of nBytes entropy.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultOpaqueBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hasher turns opaque tokens into their stored form.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher using key for HMAC (nil key means SHA-256).
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	return Hasher{key: append([]byte(nil), key...)}
}

// HasherFromEnv builds a Hasher from ESPACO_TOKEN_HMAC_KEY. When require is
// true, a missing or short key is an error instead of a SHA-256 fallback.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "" && require:
		return Hasher{}, ErrHMACKeyMissing
	case raw == "":
		return Hasher{}, nil
	case require && len(raw) < MinHMACKeyBytes:
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether the hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hex returns the 64-char hex digest of tok.
func (h Hasher) Hex(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// EqualHex compares two 64-char hex digests in constant time.
func EqualHex(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
