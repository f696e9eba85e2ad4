package authorization

import (
	"slices"
	"time"
)

// RegisteredClient describes an OAuth client known to the authorization server.
type RegisteredClient struct {
	ID                          string
	ClientID                    string
	ClientIDIssuedAt            time.Time
	ClientSecret                string
	ClientSecretExpiresAt       *time.Time
	ClientName                  string
	ClientAuthenticationMethods []ClientAuthenticationMethod
	AuthorizationGrantTypes     []GrantType
	RedirectURIs                []string
	PostLogoutRedirectURIs      []string
	Scopes                      []string
	ClientSettings              ClientSettings
	TokenSettings               TokenSettings
}

// SupportsGrantType reports whether the client may use gt.
func (c *RegisteredClient) SupportsGrantType(gt GrantType) bool {
	return slices.Contains(c.AuthorizationGrantTypes, gt)
}

// SupportsAuthenticationMethod reports whether the client may authenticate with m.
func (c *RegisteredClient) SupportsAuthenticationMethod(m ClientAuthenticationMethod) bool {
	return slices.Contains(c.ClientAuthenticationMethods, m)
}

// IsSecretExpired reports whether the client secret has an expiry before now.
func (c *RegisteredClient) IsSecretExpired(now time.Time) bool {
	return c.ClientSecretExpiresAt != nil && now.After(*c.ClientSecretExpiresAt)
}

// AllowsScopes reports whether every requested scope is registered for the client.
func (c *RegisteredClient) AllowsScopes(requested []string) bool {
	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}
