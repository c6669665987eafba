package app

import (
	"errors"
	"fmt"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/bearer"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

// ValidateSecurityConfig enforces the security policy at startup and
// returns the session token hasher it validated.
//
// Startup fails instead of falling back to weaker settings.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: ESPACO_REQUIRE_TOKEN_HMAC=true but ESPACO_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, fmt.Errorf("security policy: ESPACO_TOKEN_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
		default:
			return token.Hasher{}, err
		}
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: ESPACO_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}

// BearerConfig resolves the bearer settings: cfg supplies the base values,
// the environment overrides them and carries the key material.
func BearerConfig(cfg Config) (bearer.Config, error) {
	base := bearer.DefaultConfig()
	if cfg.BearerFormat != "" {
		base.Format = cfg.BearerFormat
	}
	if cfg.BearerIssuer != "" {
		base.Issuer = cfg.BearerIssuer
	}
	if cfg.BearerTTL > 0 {
		base.TTL = cfg.BearerTTL
	}
	bc, err := bearer.ApplyEnv(base)
	if err != nil {
		return bearer.Config{}, fmt.Errorf("security policy: bearer token config: %w", err)
	}
	return bc, nil
}
