package identity

import (
	"strings"
	"time"

	"github.com/danilo-marra/espaco-dialogico-sub003/cmd/identity/ids"
)

// NewULID mints the id for a user, session, invite or audit row.
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// ValidID reports whether id is a canonical ULID as minted by NewULID.
// Callers use it to reject path parameters before touching storage.
func ValidID(id string) bool {
	return ids.Valid(strings.TrimSpace(id))
}
