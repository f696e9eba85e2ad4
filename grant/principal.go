package grant

import (
	"context"

	"github.com/giantswarm/oauth-authz/authorization"
)

// ClientPrincipal is the client that authenticated at the token endpoint.
type ClientPrincipal struct {
	Client *authorization.RegisteredClient
	Method authorization.ClientAuthenticationMethod
}

type principalKey struct{}

// WithClientPrincipal returns a context carrying p.
func WithClientPrincipal(ctx context.Context, p *ClientPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// ClientPrincipalFrom returns the principal stored by WithClientPrincipal.
func ClientPrincipalFrom(ctx context.Context) (*ClientPrincipal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalKey{}).(*ClientPrincipal)
	if !ok || p == nil || p.Client == nil {
		return nil, false
	}
	return p, true
}
