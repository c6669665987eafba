package bearer

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// JWTManager issues HS256 JWTs with a shared secret.
type JWTManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

type jwtClaims struct {
	UserID       string `json:"uid"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"tv"`
	SessionID    string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager builds a Manager from cfg.JWTSecret.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if len(cfg.JWTSecret) < minJWTSecretBytes || cfg.TTL <= 0 {
		return nil, ErrConfig
	}
	return &JWTManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
	}, nil
}

func (m *JWTManager) Issue(sub Subject, now time.Time) (string, Claims, error) {
	const op = "bearer.Issue"

	c, err := newClaims(op, m.issuer, m.ttl, sub, now)
	if err != nil {
		return "", Claims{}, err
	}

	claims := jwtClaims{
		UserID:       sub.UserID,
		Role:         string(sub.Role),
		TokenVersion: sub.TokenVersion,
		SessionID:    sub.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Issuer:    c.Issuer,
			Subject:   sub.UserID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", Claims{}, identity.Unavailable(op, err)
	}
	return signed, c, nil
}

func (m *JWTManager) Verify(raw string, now time.Time) (Claims, error) {
	const op = "bearer.Verify"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, malformed(op)
	}

	// Time claims are checked by checkTimes so both formats share one
	// expiry rule; the parser checks signature and algorithm only.
	var parsed jwtClaims
	_, err := jwt.ParseWithClaims(raw, &parsed,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, malformed(op)
	}
	if parsed.Issuer != m.issuer || parsed.ExpiresAt == nil || parsed.IssuedAt == nil {
		return Claims{}, malformed(op)
	}

	c := Claims{
		Subject: Subject{
			UserID:       parsed.UserID,
			Role:         identity.Role(parsed.Role),
			TokenVersion: parsed.TokenVersion,
			SessionID:    parsed.SessionID,
		},
		TokenID:   parsed.ID,
		Issuer:    parsed.Issuer,
		IssuedAt:  parsed.IssuedAt.UTC(),
		ExpiresAt: parsed.ExpiresAt.UTC(),
	}
	if !validSubject(c.Subject) {
		return Claims{}, malformed(op)
	}
	if err := checkTimes(op, c, now, m.clockSkew); err != nil {
		return Claims{}, err
	}
	return c, nil
}
