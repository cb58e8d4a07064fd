// Package storage defines the entities of the authorization server and the
// repository interfaces used to persist them.
//
// Entities:
//   - Client: registered client with a replace-only metadata bag
//   - AuthorizationCode: single-use code bound to a client and redirect URI
//   - AccessToken, RefreshToken: issued credentials
//
// Entity fields are unexported. State changes go through methods (Revoke,
// MarkUsed, AddAccessToken, SetMetadata, MarkDeleted) so invariants cannot
// be bypassed by field writes. Expiry is never enforced by eviction; callers
// check IsExpired at use time.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
package storage
