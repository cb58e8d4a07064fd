// Package authorize implements the OAuth 2.0 / OpenID Connect authorization
// endpoint.
//
// A request moves through four stages:
//
//  1. Loader resolves the client and merges a request object, passed by
//     value ("request") or by reference ("request_uri"), over the query.
//  2. An ordered Chain of Checkers validates the parameters. The redirect
//     URI checker runs first; once it passed, every later error is returned
//     to the client through the response mode instead of being rendered
//     directly.
//  3. Endpoint hands over to the login and consent collaborators. Between
//     round trips the request is kept in a storage.SessionStore under an
//     opaque authorization ID.
//  4. Once consent is given the ResponseType issues credentials and the
//     ResponseMode delivers them (query, fragment or form_post).
package authorize
