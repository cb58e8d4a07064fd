// Package clientauth authenticates clients at the token, introspection and
// revocation endpoints.
//
// Authentication is split into two steps. Resolve inspects the request and
// decides which method it uses and which client it claims to be, without
// touching storage. Authenticate then checks the presented credentials
// against the stored client. A request matching more than one method that
// carries credentials is refused as ambiguous.
//
// Supported methods:
//
//   - none: public clients identified by client_id alone
//   - client_secret_basic: HTTP Basic credentials
//   - client_secret_post: client_id and client_secret form fields
//   - client_secret_jwt and private_key_jwt: RFC 7523 client assertions
//     signed with the client secret or the client's private key
package clientauth
