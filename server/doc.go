// Package server implements the services that sit between the HTTP layer
// and the storage backends.
//
// The services translate between the domain aggregates of the authorization
// package and the flat records of the storage package, and add the
// cross-cutting concerns every caller needs:
//   - AuthorizationService saves, removes and looks up authorizations and
//     reports concurrent modification
//   - ClientService registers clients and authenticates them at the token
//     endpoint with constant-time secret checks
//   - OneTimeTokenService issues single-use login tokens, hands the link to a
//     Notifier and redeems tokens at most once
//
// Lookups that match nothing return (nil, nil). Blank identifiers and token
// values are rejected with ErrInvalidArgument before any store is queried.
//
// Example usage:
//
//	store := memory.New()
//	authorizations := server.NewAuthorizationService(store, store, nil, logger)
//	clients := server.NewClientService(store, nil, logger)
//
//	a, err := authorizations.FindByToken(ctx, value, authorization.TokenTypeAccessToken)
//	if err != nil {
//	    return err
//	}
//	if a == nil {
//	    // unknown token
//	}
package server
