package bearer

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
)

// PasetoV4Manager issues PASETO v4.public tokens signed with Ed25519.
type PasetoV4Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Manager builds a Manager from cfg.PasetoV4SecretKeyHex.
func NewPasetoV4Manager(cfg Config) (*PasetoV4Manager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.TTL <= 0 {
		return nil, ErrConfig
	}

	return &PasetoV4Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *PasetoV4Manager) Issue(sub Subject, now time.Time) (string, Claims, error) {
	const op = "bearer.Issue"

	c, err := newClaims(op, m.issuer, m.ttl, sub, now)
	if err != nil {
		return "", Claims{}, err
	}

	tok := paseto.NewToken()
	tok.SetIssuer(c.Issuer)
	tok.SetIssuedAt(c.IssuedAt)
	tok.SetNotBefore(c.IssuedAt)
	tok.SetExpiration(c.ExpiresAt)
	tok.SetJti(c.TokenID)
	tok.SetString(claimUserID, sub.UserID)
	tok.SetString(claimRole, string(sub.Role))
	tok.SetString(claimSessionID, sub.SessionID)
	if err := tok.Set(claimTokenVersion, sub.TokenVersion); err != nil {
		return "", Claims{}, identity.Unavailable(op, err)
	}

	return tok.V4Sign(m.secret, nil), c, nil
}

func (m *PasetoV4Manager) Verify(raw string, now time.Time) (Claims, error) {
	const op = "bearer.Verify"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, malformed(op)
	}

	// Fresh parser per call so rules never accumulate. Expiry is checked
	// below so that expiresAt == now counts as expired.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))

	parsed, err := p.ParseV4Public(m.public, raw, nil)
	if err != nil {
		return Claims{}, malformed(op)
	}

	var c Claims
	c.Issuer = m.issuer
	if c.IssuedAt, err = parsed.GetIssuedAt(); err != nil {
		return Claims{}, malformed(op)
	}
	if c.ExpiresAt, err = parsed.GetExpiration(); err != nil {
		return Claims{}, malformed(op)
	}
	c.TokenID, _ = parsed.GetJti()

	if c.UserID, err = parsed.GetString(claimUserID); err != nil {
		return Claims{}, malformed(op)
	}
	role, err := parsed.GetString(claimRole)
	if err != nil {
		return Claims{}, malformed(op)
	}
	c.Role = identity.Role(role)
	if err := parsed.Get(claimTokenVersion, &c.TokenVersion); err != nil {
		return Claims{}, malformed(op)
	}
	c.SessionID, _ = parsed.GetString(claimSessionID)

	if !validSubject(c.Subject) {
		return Claims{}, malformed(op)
	}
	if err := checkTimes(op, c, now, m.clockSkew); err != nil {
		return Claims{}, err
	}
	return c, nil
}
