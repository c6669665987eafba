package authapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/session"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/invite"
)

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func toSessionResponse(s session.Session, currentID string) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		UserAgent: s.UserAgent,
		Current:   s.ID == currentID,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
	if s.IP != nil {
		resp.IP = s.IP.String()
	}
	return resp
}

// toInviteResponse includes the code only when withCode is set: it is shown
// to the issuer once, never in listings.
func toInviteResponse(inv invite.Invite, withCode bool) inviteResponse {
	resp := inviteResponse{
		ID:            inv.ID,
		Email:         inv.Email,
		Role:          string(inv.Role),
		ExpiresAt:     inv.ExpiresAt,
		LastEmailSent: inv.LastEmailSent,
		CreatedAt:     inv.CreatedAt,
	}
	if withCode {
		resp.Code = inv.Code
	}
	return resp
}

func (h *Handler) device(r *http.Request) session.DeviceContext {
	return session.DeviceContext{
		UserAgent: strings.TrimSpace(r.UserAgent()),
		IP:        clientIP(r, h.cfg.TrustProxy),
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
