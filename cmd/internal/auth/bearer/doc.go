// Package bearer issues and verifies the signed bearer tokens presented on
// every authenticated request.
//
// A token carries the user id, role, token version and session id current
// at issuance. Verification here is purely cryptographic plus expiry; the
// token-version comparison against the live user happens in the auth
// service. Two formats are supported: PASETO v4.public (Ed25519, default)
// and JWT HS256 for deployments that only hold a shared secret.
package bearer
