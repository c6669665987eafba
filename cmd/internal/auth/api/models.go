package authapi

import (
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/internal/auth/permission"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type logoutRequest struct {
	SessionToken string `json:"session_token"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type inviteCreateRequest struct {
	Role             string  `json:"role"`
	Email            *string `json:"email"`
	ExpiresInSeconds int64   `json:"expires_in_seconds"`
	Code             string  `json:"code"`
}

type inviteValidateRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

type signupRequest struct {
	Code     string `json:"code"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserAgent *string   `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Current   bool      `json:"current"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	User            userResponse `json:"user"`
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	SessionToken    string       `json:"session_token"`
	SessionID       string       `json:"session_id"`
	SessionExpires  time.Time    `json:"session_expires_at"`
}

type meResponse struct {
	User        userResponse       `json:"user"`
	Permissions []permission.Grant `json:"permissions"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type revokeResponse struct {
	TokenVersion    int64 `json:"token_version"`
	SessionsDeleted int64 `json:"sessions_deleted"`
}

type inviteResponse struct {
	ID            string     `json:"id"`
	Code          string     `json:"code,omitempty"`
	Email         *string    `json:"email"`
	Role          string     `json:"role"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastEmailSent *time.Time `json:"last_email_sent"`
	CreatedAt     time.Time  `json:"created_at"`
}

type invitesResponse struct {
	Invites []inviteResponse `json:"invites"`
}

type inviteValidateResponse struct {
	Valid     bool      `json:"valid"`
	Role      string    `json:"role"`
	Email     *string   `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type signupResponse struct {
	User userResponse `json:"user"`
}
