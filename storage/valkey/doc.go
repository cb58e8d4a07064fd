// Package valkey provides a Valkey storage backend for the OAuth engine.
//
// Valkey is wire-compatible with Redis. Use this backend when several engine
// instances must share clients, codes, tokens and pending authorization
// sessions.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}   -> JSON(Client), no TTL
//	{prefix}code:{code}         -> JSON({"used": bool, "data": sealed(AuthorizationCode)})
//	{prefix}access:{tokenID}    -> sealed(AccessToken)
//	{prefix}refresh:{tokenID}   -> sealed(RefreshToken)
//	{prefix}session:{id}        -> sealed(opaque bytes)
//
// Codes and tokens carry a TTL of their remaining lifetime plus
// Config.ExpiredRetention, so revoked and expired records remain readable for
// a while and then disappear on their own.
//
// # Atomic Operations
//
// Redeeming an authorization code must succeed at most once. MarkUsed runs a
// Lua script that flips the used flag of the code envelope in a single step.
// The flag lives outside the payload so the script works with encryption at
// rest enabled.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//
// With TLS and encryption at rest:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
//
// Records are sealed with AES-256-GCM using the record key as associated
// data, so a value copied under another key fails to decrypt.
package valkey
