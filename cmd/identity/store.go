package identity

import (
	"context"
	"time"
)

// Store is the Credential Store: users, their digests and their token versions.
//
// Contract:
//   - Lookups of a missing user return NotFoundError.
//   - Uniqueness violations return ConflictError with Field "username" or "email".
//   - Storage failures are wrapped with ErrUnavailable.
//   - Token-version writes are atomic increments and return the post-increment value.
type Store interface {
	Create(ctx context.Context, in CreateUserInput) (User, error)
	GetByID(ctx context.Context, id string) (User, error)

	// FindByUsernameOrEmail resolves a login identifier. Identifiers containing
	// '@' match emails, everything else matches usernames (both normalized).
	FindByUsernameOrEmail(ctx context.Context, identifier string) (User, error)

	// LockByID reads the user and, inside a transaction, keeps the row from
	// changing its token version until commit.
	LockByID(ctx context.Context, id string) (User, error)

	BumpTokenVersion(ctx context.Context, id string, now time.Time) (int64, error)

	// UpdatePasswordDigest and UpdateRole also bump the token version.
	UpdatePasswordDigest(ctx context.Context, id, digest string, now time.Time) (int64, error)
	UpdateRole(ctx context.Context, id string, role Role, now time.Time) (int64, error)

	// RehashDigest swaps oldDigest for newDigest without touching the token
	// version. It reports false when the stored digest no longer matches.
	RehashDigest(ctx context.Context, id, oldDigest, newDigest string, now time.Time) (bool, error)

	Count(ctx context.Context) (int, error)
}
