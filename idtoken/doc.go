// Package idtoken composes and signs OpenID Connect ID Tokens.
//
// An ID Token carries the standard iss, sub, aud, exp and iat claims plus
// nonce, auth_time, the at_hash and c_hash bindings to an access token or
// authorization code issued in the same response, and the profile claims
// released for the granted scopes. Tokens are signed with the server's
// jose.Signer and, when the client registered id_token_encrypted_response_alg,
// wrapped in a JWE for the client.
package idtoken
