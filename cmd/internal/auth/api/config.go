package authapi

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("authapi: invalid config")

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Config controls request handling of the auth API.
type Config struct {
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
	// ListLimit is the default page size of list endpoints.
	ListLimit int
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:   false,
		MaxBodyBytes: defaultMaxBodyBytes,
		ListLimit:    100,
	}
}

// LoadConfigFromEnv reads ESPACO_AUTH_TRUST_PROXY, ESPACO_AUTH_MAX_BODY_BYTES
// and ESPACO_AUTH_LIST_LIMIT on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) { return ApplyEnv(DefaultConfig()) }

// ApplyEnv overrides cfg with the variables read by LoadConfigFromEnv.
func ApplyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("ESPACO_AUTH_TRUST_PROXY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TrustProxy = b
	}
	if v := strings.TrimSpace(os.Getenv("ESPACO_AUTH_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxBodyBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("ESPACO_AUTH_LIST_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ListLimit = n
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.ListLimit <= 0 {
		c.ListLimit = 100
	}
	return c
}
