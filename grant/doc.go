// Package grant implements the OAuth 2.0 token endpoint.
//
// Each request is dispatched to the GrantType registered under its
// grant_type parameter. The Endpoint drives every grant through the same
// steps: request checks, client resolution and authentication, token type
// selection, the before-issuance extension chain, the grant itself, token
// issuance and finally the after-issuance extension chain, which may add
// fields such as id_token to the JSON response.
//
// Built-in grants:
//
//   - authorization_code, with PKCE and code reuse detection
//   - client_credentials
//   - refresh_token, with optional rotation and scope narrowing
//   - password, backed by a providers.AccountProvider
//   - urn:ietf:params:oauth:grant-type:jwt-bearer (RFC 7523)
//   - implicit, registered only so clients can be checked against it
package grant
