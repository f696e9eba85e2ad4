package storage

import (
	"time"

	"github.com/giantswarm/oauth-authz/authorization"
)

// AuthorizationRecord is the persisted, column-per-field form of an
// authorization. Nullable columns are pointers; a token slot whose value is
// nil is absent.
type AuthorizationRecord struct {
	ID                     string
	RegisteredClientID     string
	PrincipalName          string
	AuthorizationGrantType string
	AuthorizedScopes       string
	Attributes             string
	State                  *string

	AuthorizationCodeValue     *string
	AuthorizationCodeIssuedAt  *time.Time
	AuthorizationCodeExpiresAt *time.Time
	AuthorizationCodeMetadata  *string

	AccessTokenValue     *string
	AccessTokenIssuedAt  *time.Time
	AccessTokenExpiresAt *time.Time
	AccessTokenMetadata  *string
	AccessTokenType      *string
	AccessTokenScopes    *string

	OIDCIDTokenValue     *string
	OIDCIDTokenIssuedAt  *time.Time
	OIDCIDTokenExpiresAt *time.Time
	OIDCIDTokenMetadata  *string
	OIDCIDTokenClaims    *string

	RefreshTokenValue     *string
	RefreshTokenIssuedAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	RefreshTokenMetadata  *string

	Version int64
}

// TokenValues returns every non-empty lookup value held by the record, keyed
// by slot. The ID token is included so its value stays globally unique, even
// though it is not a lookup key.
func (r *AuthorizationRecord) TokenValues() map[authorization.TokenType]string {
	values := make(map[authorization.TokenType]string, 5)
	add := func(t authorization.TokenType, v *string) {
		if v != nil && *v != "" {
			values[t] = *v
		}
	}
	add(authorization.TokenTypeState, r.State)
	add(authorization.TokenTypeCode, r.AuthorizationCodeValue)
	add(authorization.TokenTypeAccessToken, r.AccessTokenValue)
	add(authorization.TokenTypeRefreshToken, r.RefreshTokenValue)
	add(authorization.TokenTypeIDToken, r.OIDCIDTokenValue)
	return values
}

// Clone returns a deep copy of r so stores never share pointers with callers.
func (r *AuthorizationRecord) Clone() *AuthorizationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.State = cloneString(r.State)
	c.AuthorizationCodeValue = cloneString(r.AuthorizationCodeValue)
	c.AuthorizationCodeIssuedAt = cloneTime(r.AuthorizationCodeIssuedAt)
	c.AuthorizationCodeExpiresAt = cloneTime(r.AuthorizationCodeExpiresAt)
	c.AuthorizationCodeMetadata = cloneString(r.AuthorizationCodeMetadata)
	c.AccessTokenValue = cloneString(r.AccessTokenValue)
	c.AccessTokenIssuedAt = cloneTime(r.AccessTokenIssuedAt)
	c.AccessTokenExpiresAt = cloneTime(r.AccessTokenExpiresAt)
	c.AccessTokenMetadata = cloneString(r.AccessTokenMetadata)
	c.AccessTokenType = cloneString(r.AccessTokenType)
	c.AccessTokenScopes = cloneString(r.AccessTokenScopes)
	c.OIDCIDTokenValue = cloneString(r.OIDCIDTokenValue)
	c.OIDCIDTokenIssuedAt = cloneTime(r.OIDCIDTokenIssuedAt)
	c.OIDCIDTokenExpiresAt = cloneTime(r.OIDCIDTokenExpiresAt)
	c.OIDCIDTokenMetadata = cloneString(r.OIDCIDTokenMetadata)
	c.OIDCIDTokenClaims = cloneString(r.OIDCIDTokenClaims)
	c.RefreshTokenValue = cloneString(r.RefreshTokenValue)
	c.RefreshTokenIssuedAt = cloneTime(r.RefreshTokenIssuedAt)
	c.RefreshTokenExpiresAt = cloneTime(r.RefreshTokenExpiresAt)
	c.RefreshTokenMetadata = cloneString(r.RefreshTokenMetadata)
	return &c
}

// ClientRecord is the persisted form of a registered client. Set-valued
// columns hold comma-delimited, sorted members.
type ClientRecord struct {
	ID                          string
	ClientID                    string
	ClientIDIssuedAt            time.Time
	ClientSecret                *string
	ClientSecretExpiresAt       *time.Time
	ClientName                  string
	ClientAuthenticationMethods string
	AuthorizationGrantTypes     string
	RedirectURIs                string
	PostLogoutRedirectURIs      string
	Scopes                      string
	ClientSettings              string
	TokenSettings               string
}

// Clone returns a deep copy of r.
func (r *ClientRecord) Clone() *ClientRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ClientSecret = cloneString(r.ClientSecret)
	c.ClientSecretExpiresAt = cloneTime(r.ClientSecretExpiresAt)
	return &c
}

// OneTimeToken is a single-use login token handed to a user out of band.
type OneTimeToken struct {
	Value     string    `json:"value"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token expired before now.
func (t *OneTimeToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
