package grant

import (
	"context"
	"net/url"
	"slices"

	"github.com/giantswarm/oauth-authz/authorization"
)

// PasswordGrantAlias is the organization specific grant_type accepted in
// addition to "password".
const PasswordGrantAlias = "urn:giantswarm:params:oauth:grant-type:password"

// PasswordConverter converts resource owner password credentials requests.
type PasswordConverter struct {
	grantTypes []string
}

// NewPasswordConverter accepts "password" and the given aliases. Without
// aliases PasswordGrantAlias is accepted.
func NewPasswordConverter(aliases ...string) *PasswordConverter {
	if len(aliases) == 0 {
		aliases = []string{PasswordGrantAlias}
	}
	grantTypes := append([]string{authorization.GrantTypePassword.String()}, aliases...)
	slices.Sort(grantTypes)
	return &PasswordConverter{grantTypes: slices.Compact(grantTypes)}
}

// GrantTypes returns the accepted grant_type values.
func (c *PasswordConverter) GrantTypes() []string {
	return slices.Clone(c.grantTypes)
}

// Convert implements Converter. username and password are required once,
// scope is optional. Every parameter other than grant_type and scope is kept
// as an additional parameter.
func (c *PasswordConverter) Convert(ctx context.Context, params url.Values) (AuthenticationRequest, error) {
	grantType, ok, err := matchGrantType(params, c.grantTypes)
	if !ok || err != nil {
		return nil, err
	}

	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	username, err := singleValue(params, ParameterUsername)
	if err != nil {
		return nil, err
	}
	password, err := singleValue(params, ParameterPassword)
	if err != nil {
		return nil, err
	}
	scopes, err := optionalScope(params)
	if err != nil {
		return nil, err
	}

	return &PasswordRequest{
		baseRequest: baseRequest{
			client:     principal,
			scopes:     scopes,
			additional: remaining(params, ParameterGrantType, ParameterScope),
		},
		RequestedGrantType: grantType,
		Username:           username,
		Password:           password,
	}, nil
}
