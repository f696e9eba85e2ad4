// Package memory provides an in-memory implementation of the storage interfaces.
//
// Store implements AuthorizationStore, ClientStore and OneTimeTokenStore using
// maps guarded by a sync.RWMutex. It is suitable for development, testing and
// single-instance deployments where persistence is not required.
//
// Features:
//   - Global uniqueness of token values across slots and authorizations
//   - Optimistic version checks on authorization saves
//   - Single-use one-time tokens with a background sweep of expired entries
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	authorizations := server.NewAuthorizationService(store, store, nil, logger)
package memory
