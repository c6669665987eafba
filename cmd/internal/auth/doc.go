// Package auth is the request-facing side of the subsystem. It logs users in,
// resolves bearer tokens to an AuthContext, checks permissions and exposes
// logout, invite and credential operations as one Service. The HTTP layer
// talks only to this package.
package auth
