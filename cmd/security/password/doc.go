// Package password hashes and verifies user passwords.
//
// New digests are Argon2id in PHC string form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Verify also accepts bcrypt digests imported from the previous system when
// Config.AcceptBcrypt is set. Digests are untrusted input: decoding is strict
// and verification refuses cost parameters far above the configured ones.
package password
