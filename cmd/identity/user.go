package identity

import (
	"strings"
	"time"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTerapeuta  Role = "terapeuta"
	RoleSecretaria Role = "secretaria"
)

// Roles lists every valid role.
func Roles() []Role { return []Role{RoleAdmin, RoleTerapeuta, RoleSecretaria} }

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTerapeuta, RoleSecretaria:
		return true
	default:
		return false
	}
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", Invalid("identity.ParseRole", "unknown role")
	}
	return r, nil
}

// User is the canonical security principal.
//
// TokenVersion is the revocation counter: every bearer token embeds the value
// current at issuance and is rejected once the stored value moves past it.
type User struct {
	ID             string
	Username       string
	Email          string
	PasswordDigest string
	Role           Role
	TokenVersion   int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateUserInput describes a new user row. PasswordDigest is already hashed.
type CreateUserInput struct {
	Username       string
	Email          string
	PasswordDigest string
	Role           Role
	Now            time.Time
}

func (in CreateUserInput) validate(op string) (CreateUserInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if !ValidUsername(in.Username) {
		return in, Invalid(op, "invalid username")
	}
	if !ValidEmail(in.Email) {
		return in, Invalid(op, "invalid email")
	}
	if strings.TrimSpace(in.PasswordDigest) == "" {
		return in, Invalid(op, "password digest is required")
	}
	if !in.Role.Valid() {
		return in, Invalid(op, "invalid role")
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	in.Now = in.Now.UTC()
	return in, nil
}
