// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. Use it when several server replicas must share state:
//
//   - [storage.AuthorizationStore]: authorizations with a global token index
//   - [storage.ClientStore]: registered clients with a client_id index
//   - [storage.OneTimeTokenStore]: single-use login tokens with TTL expiry
//
// # Key Schema
//
// All keys use a configurable prefix (default "authz:"):
//
//	{prefix}authorization:{id}     -> HASH data=JSON(record) version=N tokens=values
//	{prefix}token:{value}          -> HASH authorization_id token_type
//	{prefix}client:{id}            -> HASH data=JSON(record) client_id
//	{prefix}client_id:{clientID}   -> id
//	{prefix}ott:{value}            -> JSON(one-time token), PX = TTL
//
// # Atomicity
//
// Saves run as Lua scripts so the version check, the token uniqueness check
// and the index rewrite happen in one step. One-time tokens are created with
// SET NX and consumed with GETDEL, so at most one consumer wins.
//
// # Example
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "authz:",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package valkey
