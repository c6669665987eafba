package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
	// AcceptBcrypt lets Verify check $2a$/$2b$/$2y$ digests carried over from
	// the previous system. New digests are always Argon2id.
	AcceptBcrypt bool
}

// DefaultConfig returns the baseline used by the server.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
		AcceptBcrypt: true,
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - ESPACO_PASSWORD_MIN_LEN, ESPACO_PASSWORD_MAX_LEN
//   - ESPACO_PASSWORD_REJECT_VERY_WEAK, ESPACO_PASSWORD_ACCEPT_BCRYPT (true/false)
//   - ESPACO_ARGON2_MEMORY_KIB, ESPACO_ARGON2_ITERATIONS, ESPACO_ARGON2_PARALLELISM
//   - ESPACO_ARGON2_SALT_LEN, ESPACO_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"ESPACO_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"ESPACO_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := parseIntRange(v, e.min, e.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"ESPACO_PASSWORD_REJECT_VERY_WEAK", &cfg.Policy.RejectVeryWeak},
		{"ESPACO_PASSWORD_ACCEPT_BCRYPT", &cfg.AcceptBcrypt},
	}
	for _, e := range bools {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"ESPACO_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"ESPACO_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"ESPACO_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"ESPACO_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, e := range u32s {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		u, err := parseU32Range(v, e.min, e.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = u
	}

	if v, ok := os.LookupEnv("ESPACO_ARGON2_PARALLELISM"); ok {
		u, err := parseU32Range(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("ESPACO_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func parseIntRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func parseU32Range(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
