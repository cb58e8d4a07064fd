// Package token issues access and refresh tokens and implements the
// introspection (RFC 7662) and revocation (RFC 7009) operations on top of
// the storage repositories.
//
// Token types (such as Bearer) describe how an access token is presented.
// Type hints map a token_type_hint value to the repository holding that
// kind of token, so introspection and revocation work across token families.
package token
