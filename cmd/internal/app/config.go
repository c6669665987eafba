package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains the server runtime configuration.
//
// Values come from DefaultConfig, then the YAML file named by
// ESPACO_CONFIG_FILE (if any), then ESPACO_* environment variables.
// Secrets (token keys, HMAC key) are only read from the environment, by the
// packages that use them.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	// Exactly one of DatabaseURL (Postgres) and SQLitePath must be set.
	DatabaseURL string `yaml:"database_url"`
	DBSchema    string `yaml:"db_schema"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`
	SQLitePath  string `yaml:"sqlite_path"`
	AutoMigrate bool   `yaml:"auto_migrate"`

	// Base values for bearer.ApplyEnv.
	BearerFormat string        `yaml:"bearer_format"`
	BearerIssuer string        `yaml:"bearer_issuer"`
	BearerTTL    time.Duration `yaml:"bearer_ttl"`

	SessionTTL     time.Duration `yaml:"session_ttl"`
	StrictSessions bool          `yaml:"strict_sessions"`

	InviteTTL            time.Duration `yaml:"invite_ttl"`
	InviteMaxTTL         time.Duration `yaml:"invite_ttl_max"`
	InviteResendInterval time.Duration `yaml:"invite_resend_interval"`

	// Base values for authapi.ApplyEnv.
	TrustProxy   bool  `yaml:"trust_proxy"`
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// If true, ESPACO_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session
	// tokens are stored as HMAC digests.
	RequireTokenHMAC bool `yaml:"require_token_hmac"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		CORSMaxAgeSeconds: 600,

		DBSchema:   "espaco",
		DBMaxConns: 10,

		SessionTTL: 24 * time.Hour,

		InviteTTL:            7 * 24 * time.Hour,
		InviteMaxTTL:         30 * 24 * time.Hour,
		InviteResendInterval: 15 * time.Minute,

		MaxBodyBytes: 1 << 20,

		MetricsEnabled: true,
	}
}

// LoadConfig builds Config from defaults, the optional YAML file and the
// environment, then validates it.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("ESPACO_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = EnvString("ESPACO_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("ESPACO_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("ESPACO_LOG_FORMAT", c.LogFormat)

	c.ReadHeaderTimeout = EnvDuration("ESPACO_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("ESPACO_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("ESPACO_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("ESPACO_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.MaxHeaderBytes = EnvInt("ESPACO_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.CORSAllowedOrigins = EnvStringList("ESPACO_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("ESPACO_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("ESPACO_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	c.DatabaseURL = EnvString("ESPACO_DATABASE_URL", c.DatabaseURL)
	c.DBSchema = EnvString("ESPACO_DB_SCHEMA", c.DBSchema)
	c.DBMaxConns = EnvInt32("ESPACO_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("ESPACO_DB_MIN_CONNS", c.DBMinConns)
	c.SQLitePath = EnvString("ESPACO_SQLITE_PATH", c.SQLitePath)
	c.AutoMigrate = EnvBool("ESPACO_AUTO_MIGRATE", c.AutoMigrate)

	c.SessionTTL = EnvDuration("ESPACO_SESSION_TTL", c.SessionTTL)
	c.StrictSessions = EnvBool("ESPACO_AUTH_STRICT_SESSIONS", c.StrictSessions)

	c.InviteTTL = EnvDuration("ESPACO_INVITE_TTL", c.InviteTTL)
	c.InviteMaxTTL = EnvDuration("ESPACO_INVITE_TTL_MAX", c.InviteMaxTTL)
	c.InviteResendInterval = EnvDuration("ESPACO_INVITE_RESEND_INTERVAL", c.InviteResendInterval)

	c.RequireTokenHMAC = EnvBool("ESPACO_REQUIRE_TOKEN_HMAC", c.RequireTokenHMAC)
	c.MetricsEnabled = EnvBool("ESPACO_METRICS_ENABLED", c.MetricsEnabled)
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json, text or pretty", c.LogFormat))
	}

	switch {
	case c.DatabaseURL == "" && c.SQLitePath == "":
		errs = append(errs, errors.New("one of ESPACO_DATABASE_URL or ESPACO_SQLITE_PATH is required"))
	case c.DatabaseURL != "" && c.SQLitePath != "":
		errs = append(errs, errors.New("ESPACO_DATABASE_URL and ESPACO_SQLITE_PATH are mutually exclusive"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, errors.New("db_min_conns must not exceed db_max_conns"))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.InviteTTL <= 0 || c.InviteMaxTTL <= 0 || c.InviteTTL > c.InviteMaxTTL {
		errs = append(errs, errors.New("invite_ttl must be positive and not exceed invite_ttl_max"))
	}
	if c.InviteResendInterval < 0 {
		errs = append(errs, errors.New("invite_resend_interval must not be negative"))
	}
	if c.CORSAllowCredentials && containsWildcardOrigin(c.CORSAllowedOrigins) {
		errs = append(errs, errors.New(`cors_allow_credentials cannot be combined with origin "*"`))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}
	return nil
}

func containsWildcardOrigin(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
