package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Version = argon2.Version
	argon2Prefix  = "$argon2id$"
)

// Hash validates password against the policy and returns an Argon2id digest.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify checks password against digest.
// Returns (true, nil) for a match, (false, nil) for a mismatch and
// (false, ErrInvalidHash) for malformed or unsupported digests.
func (c Config) Verify(digest, password string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, argon2Prefix):
		return c.verifyArgon2id(digest, password)
	case c.AcceptBcrypt && isBcryptDigest(digest):
		return verifyBcrypt(digest, password)
	default:
		return false, ErrInvalidHash
	}
}

// NeedsRehash reports whether digest should be replaced by a fresh Hash on
// the next successful login (legacy scheme or weaker parameters).
func (c Config) NeedsRehash(digest string) bool {
	if !strings.HasPrefix(digest, argon2Prefix) {
		return true
	}
	p, _, _, err := decode(digest)
	if err != nil {
		return true
	}
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength
}

func (c Config) verifyArgon2id(digest, password string) (bool, error) {
	params, salt, expected, err := decode(digest)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		params.KeyLength,
	)
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

// withinReasonableBounds accepts older/smaller settings but rejects digests
// whose cost is far above ours.
func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

// decode parses "$argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>".
func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2Version) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint64
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
		switch k {
		case "m":
			mem = n
		case "t":
			it = n
		case "p":
			par = n
		default:
			return Argon2idParams{}, nil, nil, ErrInvalidHash
		}
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) > 64 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil || len(hash) > 128 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	params := Argon2idParams{
		MemoryKiB:   uint32(mem),       // #nosec G115 -- parsed with bitSize 32.
		Iterations:  uint32(it),        // #nosec G115 -- parsed with bitSize 32.
		Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded above.
		KeyLength:   uint32(len(hash)), // #nosec G115 -- bounded above.
	}
	return params, salt, hash, nil
}
