package grant

import (
	"net/url"

	"github.com/giantswarm/oauth-authz/authorization"
)

// AuthenticationRequest is a parsed token request ready for issuance.
type AuthenticationRequest interface {
	// GrantType is the canonical grant type, independent of the alias the
	// client used.
	GrantType() authorization.GrantType

	// Client is the authenticated requesting client.
	Client() *ClientPrincipal

	// Scopes are the requested scopes, normalized. Nil when none were requested.
	Scopes() []string

	// AdditionalParameters holds the request parameters the converter did
	// not consume, verbatim.
	AdditionalParameters() url.Values
}

type baseRequest struct {
	client     *ClientPrincipal
	scopes     []string
	additional url.Values
}

func (r *baseRequest) Client() *ClientPrincipal         { return r.client }
func (r *baseRequest) Scopes() []string                 { return r.scopes }
func (r *baseRequest) AdditionalParameters() url.Values { return r.additional }

// PasswordRequest is a resource owner password credentials request.
type PasswordRequest struct {
	baseRequest

	// RequestedGrantType is the grant_type value as sent, which may be an alias.
	RequestedGrantType string
	Username           string
	Password           string
}

// GrantType returns authorization.GrantTypePassword.
func (r *PasswordRequest) GrantType() authorization.GrantType {
	return authorization.GrantTypePassword
}

// JWTBearerRequest is an RFC 7523 JWT bearer grant request.
type JWTBearerRequest struct {
	baseRequest

	Assertion string
}

// GrantType returns authorization.GrantTypeJWTBearer.
func (r *JWTBearerRequest) GrantType() authorization.GrantType {
	return authorization.GrantTypeJWTBearer
}

var (
	_ AuthenticationRequest = (*PasswordRequest)(nil)
	_ AuthenticationRequest = (*JWTBearerRequest)(nil)
)
