// Package authapi exposes the auth service as a JSON HTTP API.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth"
	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
)

// Handler wires HTTP auth endpoints to the auth service.
type Handler struct {
	log *slog.Logger
	cfg Config
	svc *auth.Service
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, svc *auth.Service, cfg Config) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("authapi: nil auth service")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg.withDefaults(), svc: svc}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	s := h.svc

	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/invites/validate", h.handleInviteValidate)
	mux.HandleFunc("POST /auth/signup", h.handleSignup)

	mux.Handle("POST /auth/logout", s.RequireAuth(http.HandlerFunc(h.handleLogout)))
	mux.Handle("POST /auth/logout_all", s.RequireAuth(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("GET /me", s.RequireAuth(http.HandlerFunc(h.handleMe)))
	mux.Handle("POST /auth/password", s.RequireAuth(http.HandlerFunc(h.handlePassword)))

	// Session management needs the session row itself.
	mux.Handle("GET /auth/sessions", s.RequireAuth(http.HandlerFunc(h.handleSessions), auth.Strict()))
	mux.Handle("DELETE /auth/sessions/{id}", s.RequireAuth(http.HandlerFunc(h.handleSessionRevoke), auth.Strict()))

	mux.Handle("POST /auth/invites",
		s.RequireResource(permission.Convites, false, http.HandlerFunc(h.handleInviteCreate)))
	mux.Handle("GET /auth/invites",
		s.RequireResource(permission.Convites, false, http.HandlerFunc(h.handleInviteList)))
	mux.Handle("POST /auth/invites/{id}/email_sent",
		s.RequirePermission(permission.Convites, permission.Update, http.HandlerFunc(h.handleInviteEmailSent)))
	mux.Handle("PATCH /auth/users/{id}/role",
		s.RequireResource(permission.Usuarios, true, http.HandlerFunc(h.handleRoleChange)))
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		auth.WriteError(w, identity.Invalid("authapi.login", "identifier and password are required"))
		return
	}

	res, err := h.svc.Login(r.Context(), auth.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		Device:     h.device(r),
	})
	if err != nil {
		h.fail(w, "auth.login", err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:            toUserResponse(res.User),
		AccessToken:     res.BearerToken,
		AccessExpiresAt: res.Claims.ExpiresAt,
		SessionToken:    res.SessionToken,
		SessionID:       res.Session.ID,
		SessionExpires:  res.Session.ExpiresAt,
	})
}

// handleLogout ends one session: the one named by session_token, or the one
// the bearer token was issued with when the body is empty.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req logoutRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	var err error
	if tok := strings.TrimSpace(req.SessionToken); tok != "" {
		_, err = h.svc.LogoutOne(r.Context(), tok, h.device(r))
	} else if ac.SessionID != "" {
		_, err = h.svc.RevokeSession(r.Context(), ac, ac.SessionID, h.device(r))
	}
	if err != nil {
		h.fail(w, "auth.logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	res, err := h.svc.LogoutAll(r.Context(), ac, h.device(r))
	if err != nil {
		h.fail(w, "auth.logout_all", err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{TokenVersion: res.TokenVersion, SessionsDeleted: res.SessionsDeleted})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	u, err := h.svc.Me(r.Context(), ac)
	if err != nil {
		if identity.IsNotFound(err) {
			err = identity.Unauthenticated("authapi.me")
		}
		h.fail(w, "auth.me", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:        toUserResponse(u),
		Permissions: permission.GrantsForRole(u.Role),
	})
}

func (h *Handler) handlePassword(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req passwordRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.ChangePassword(r.Context(), ac, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.fail(w, "auth.password", err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{TokenVersion: res.TokenVersion, SessionsDeleted: res.SessionsDeleted})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	list, err := h.svc.ListSessions(r.Context(), ac)
	if err != nil {
		h.fail(w, "auth.sessions", err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s, ac.SessionID))
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: out})
}

func (h *Handler) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	id := strings.TrimSpace(r.PathValue("id"))

	ok, err := h.svc.RevokeSession(r.Context(), ac, id, h.device(r))
	if err != nil {
		h.fail(w, "auth.sessions.revoke", err)
		return
	}
	if !ok {
		auth.WriteError(w, identity.NotFoundError{Op: "authapi.sessions.revoke", Resource: "session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req inviteCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		auth.WriteError(w, err)
		return
	}
	if req.ExpiresInSeconds < 0 {
		auth.WriteError(w, identity.Invalid("authapi.invites.create", "expires_in_seconds must not be negative"))
		return
	}

	inv, err := h.svc.IssueInvite(r.Context(), ac, auth.IssueInviteInput{
		Role:  role,
		Email: req.Email,
		TTL:   time.Duration(req.ExpiresInSeconds) * time.Second,
		Code:  req.Code,
	})
	if err != nil {
		h.fail(w, "auth.invites.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInviteResponse(inv, true))
}

func (h *Handler) handleInviteList(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	limit := h.cfg.ListLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			auth.WriteError(w, identity.Invalid("authapi.invites.list", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	list, err := h.svc.ListInvites(r.Context(), ac, limit)
	if err != nil {
		h.fail(w, "auth.invites.list", err)
		return
	}
	out := make([]inviteResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, toInviteResponse(inv, false))
	}
	writeJSON(w, http.StatusOK, invitesResponse{Invites: out})
}

func (h *Handler) handleInviteEmailSent(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	inv, err := h.svc.RecordInviteEmailSent(r.Context(), ac, r.PathValue("id"))
	if err != nil {
		h.fail(w, "auth.invites.email_sent", err)
		return
	}
	writeJSON(w, http.StatusOK, toInviteResponse(inv, false))
}

func (h *Handler) handleInviteValidate(w http.ResponseWriter, r *http.Request) {
	var req inviteValidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	inv, err := h.svc.ValidateInvite(r.Context(), req.Code, req.Email)
	if err != nil {
		h.fail(w, "auth.invites.validate", err)
		return
	}
	writeJSON(w, http.StatusOK, inviteValidateResponse{
		Valid:     true,
		Role:      string(inv.Role),
		Email:     inv.Email,
		ExpiresAt: inv.ExpiresAt,
	})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.svc.RedeemInvite(r.Context(), auth.SignupInput{
		Code:     req.Code,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IP:       clientIP(r, h.cfg.TrustProxy),
	})
	if err != nil {
		h.fail(w, "auth.signup", err)
		return
	}
	writeJSON(w, http.StatusCreated, signupResponse{User: toUserResponse(u)})
}

func (h *Handler) handleRoleChange(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req roleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		auth.WriteError(w, err)
		return
	}

	res, err := h.svc.ChangeRole(r.Context(), ac, r.PathValue("id"), role)
	if err != nil {
		h.fail(w, "auth.role", err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{TokenVersion: res.TokenVersion, SessionsDeleted: res.SessionsDeleted})
}

// fail writes err and logs it when it is a server-side failure.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if auth.HTTPStatus(err) >= http.StatusInternalServerError {
		h.log.Error(op+".fail", "kind", identity.KindOf(err), "err", err)
	}
	auth.WriteError(w, err)
}
