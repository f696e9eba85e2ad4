package grant

import (
	"context"
	"net/url"

	"github.com/giantswarm/oauth-authz/authorization"
)

// JWTBearerConverter converts RFC 7523 JWT bearer grant requests.
type JWTBearerConverter struct{}

// NewJWTBearerConverter returns a JWTBearerConverter.
func NewJWTBearerConverter() *JWTBearerConverter {
	return &JWTBearerConverter{}
}

// Convert implements Converter. assertion is required once, scope is
// optional. Every parameter other than grant_type, assertion and scope is
// kept as an additional parameter.
func (c *JWTBearerConverter) Convert(ctx context.Context, params url.Values) (AuthenticationRequest, error) {
	_, ok, err := matchGrantType(params, []string{authorization.GrantTypeJWTBearer.String()})
	if !ok || err != nil {
		return nil, err
	}

	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	assertion, err := singleValue(params, ParameterAssertion)
	if err != nil {
		return nil, err
	}
	scopes, err := optionalScope(params)
	if err != nil {
		return nil, err
	}

	return &JWTBearerRequest{
		baseRequest: baseRequest{
			client:     principal,
			scopes:     scopes,
			additional: remaining(params, ParameterGrantType, ParameterAssertion, ParameterScope),
		},
		Assertion: assertion,
	}, nil
}
