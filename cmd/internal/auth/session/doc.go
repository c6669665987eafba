// Package session is the Session Store: one row per logged-in device.
//
// A session is identified by an opaque random token that is handed to the
// client once and persisted only as a hash (see cmd/security/token). Expired
// rows are treated as absent and deleted lazily when touched. Deleting rows is
// how a device is logged out; the bulk delete for a user is driven by the
// revocation controller together with the user's token-version bump.
package session
