package bearer

import (
	"errors"
	"os"
	"strings"
	"time"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("bearer: invalid config")

const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"

	minJWTSecretBytes = 32
)

// Config defines the bearer token settings.
type Config struct {
	// Format selects the token format: "paseto" (default) or "jwt".
	Format string

	// Issuer is set as "iss" and required on verification.
	Issuer string

	// TTL is the token lifetime; expiresAt = issuedAt + TTL.
	TTL time.Duration

	// ClockSkew tolerates tokens whose issued-at is slightly in the future.
	// It never extends expiry.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key (paseto format).
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 shared secret (jwt format).
	JWTSecret string
}

// DefaultConfig returns defaults without key material.
func DefaultConfig() Config {
	return Config{
		Format:    FormatPaseto,
		Issuer:    "espaco-dialogico",
		TTL:       24 * time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads bearer configuration from environment variables.
//
// Required (depending on ESPACO_BEARER_FORMAT):
//   - ESPACO_PASETO_V4_SECRET_KEY_HEX (paseto)
//   - ESPACO_JWT_SECRET, at least 32 bytes (jwt)
//
// Optional:
//   - ESPACO_BEARER_FORMAT, ESPACO_BEARER_ISSUER
//   - ESPACO_BEARER_TTL, ESPACO_BEARER_CLOCK_SKEW (Go durations)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) { return ApplyEnv(DefaultConfig()) }

// ApplyEnv overrides cfg with the variables read by LoadConfigFromEnv and
// validates the result. Key material is only ever read from the environment.
func ApplyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("ESPACO_BEARER_FORMAT")); v != "" {
		cfg.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ESPACO_BEARER_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("ESPACO_BEARER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}
	if v := os.Getenv("ESPACO_BEARER_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("ESPACO_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = os.Getenv("ESPACO_JWT_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected format has its key material.
func (c Config) Validate() error {
	if c.TTL <= 0 || c.ClockSkew < 0 || strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	switch c.Format {
	case FormatPaseto:
		if c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		if len(c.JWTSecret) < minJWTSecretBytes {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}

// New builds the Manager selected by cfg.Format.
func New(cfg Config) (Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Format == FormatJWT {
		return NewJWTManager(cfg)
	}
	return NewPasetoV4Manager(cfg)
}
