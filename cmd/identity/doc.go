// Package identity holds the credential side of Espaço Dialógico's auth core:
// users with their role and token version, the Credential Store contract with
// Postgres and SQLite implementations, and the shared error taxonomy every
// auth component reports through.
//
// Password digests are opaque here; hashing is delegated to a Hasher
// (see cmd/security/password).
package identity
