// Package jose orchestrates the JOSE operations the engine needs: verifying
// request objects and client assertions, decrypting JWE-wrapped values,
// signing and optionally encrypting ID Tokens, and publishing the server's
// public keys.
//
// The cryptographic primitives come from go-jose (JWS verification, JWE,
// JWK sets) and golang-jwt (signing and registered-claim validation). This
// package only decides which key and algorithm apply to a given client.
//
// Key material for a client is taken from, in order:
//
//   - the inline "jwks" metadata
//   - the "jwks_uri" metadata, fetched through a JKUFetcher with caching
//   - the client secret, used as the HMAC key for HS256/HS384/HS512
//
// Unsecured tokens (alg "none") are only accepted when the caller allows it.
package jose
