// Package memory provides an in-memory implementation of the storage
// repositories.
//
// All repositories returned by a Store share one sync.RWMutex. Entities are
// cloned on the way in and out, so callers never share mutable state with the
// store or with each other. Nothing runs in the background: expired sessions
// are dropped when read, and PurgeExpired can be called explicitly to reclaim
// memory held by expired tokens.
//
// For multi-instance deployments use the storage/valkey package instead.
//
//	store := memory.New()
//	srv, err := server.New(server.Dependencies{
//		Clients:            store.Clients(),
//		AuthorizationCodes: store.AuthorizationCodes(),
//		AccessTokens:       store.AccessTokens(),
//		RefreshTokens:      store.RefreshTokens(),
//		Sessions:           store.Sessions(),
//	}, cfg)
package memory
