package session

import (
	"context"
	"errors"
	"strings"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/security/token"
)

// insertFunc persists one session row and reports ConflictError on a
// uniqueness collision.
type insertFunc func(ctx context.Context, s Session) error

const createAttempts = 2

// create mints a token and inserts the row, retrying once with a fresh
// token on collision. Shared by every backend.
func create(ctx context.Context, h token.Hasher, tokenBytes int, in CreateInput, insert insertFunc) (Created, error) {
	const op = "session.Create"

	in, err := in.normalize(op)
	if err != nil {
		return Created{}, err
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Created{}, identity.Unavailable(op, err)
		}

		tok, err := token.NewOpaque(tokenBytes)
		if err != nil {
			return Created{}, identity.Unavailable(op, err)
		}
		id, err := identity.NewULID(in.Now)
		if err != nil {
			return Created{}, identity.Unavailable(op, err)
		}

		s := Session{
			ID:        id,
			UserID:    in.UserID,
			TokenHash: h.Hex(tok),
			ExpiresAt: in.Now.Add(in.TTL),
			IP:        in.Device.IP,
			CreatedAt: in.Now,
			UpdatedAt: in.Now,
		}
		if ua := strings.TrimSpace(in.Device.UserAgent); ua != "" {
			if len(ua) > maxUserAgentLen {
				ua = ua[:maxUserAgentLen]
			}
			s.UserAgent = &ua
		}

		err = insert(ctx, s)
		if err == nil {
			return Created{Session: s, Token: tok}, nil
		}
		var ce identity.ConflictError
		if !errors.As(err, &ce) {
			return Created{}, err
		}
		lastErr = err
	}
	return Created{}, lastErr
}

const maxUserAgentLen = 512

func ipText(s Session) *string {
	if len(s.IP) == 0 {
		return nil
	}
	v := s.IP.String()
	return &v
}
