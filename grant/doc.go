// Package grant turns raw token endpoint parameters into typed
// authentication requests for extension grants.
//
// Converters only parse. They never verify credentials or issue tokens; the
// issuer receiving the AuthenticationRequest does that. A converter that does
// not recognise the grant_type returns (nil, nil) so that a Chain can try the
// next one.
//
// The authenticated client must be placed in the request context with
// WithClientPrincipal before conversion:
//
//	ctx = grant.WithClientPrincipal(ctx, &grant.ClientPrincipal{Client: client, Method: method})
//	req, err := chain.Convert(ctx, r.PostForm)
package grant
