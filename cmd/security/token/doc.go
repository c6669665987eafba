// Package token mints opaque session tokens and hashes them for storage.
//
// Only the hash is ever persisted. Without a key the hash is SHA-256(token);
// with ESPACO_TOKEN_HMAC_KEY set it is HMAC-SHA256(token, key), so a leaked
// table cannot be matched against guessed tokens. Output is always 64-char hex.
package token
