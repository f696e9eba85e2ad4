package authorization

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AttributeState is the attribute key holding the OAuth state parameter.
const AttributeState = "state"

// Authorization is a single grant instance: who authorized which client, for
// which scopes, and the tokens issued so far.
type Authorization struct {
	ID                 string
	RegisteredClientID string
	PrincipalName      string
	GrantType          GrantType
	AuthorizedScopes   []string
	Attributes         map[string]any

	AuthorizationCode *Token
	AccessToken       *AccessToken
	RefreshToken      *Token
	IDToken           *IDToken

	// Version is bumped on every successful save and used to detect
	// concurrent modification of the same aggregate.
	Version int64
}

// State returns the state attribute, or "" when none was recorded.
func (a *Authorization) State() string {
	s, _ := a.Attributes[AttributeState].(string)
	return s
}

// SetState records the state attribute.
func (a *Authorization) SetState(state string) {
	if a.Attributes == nil {
		a.Attributes = make(map[string]any)
	}
	a.Attributes[AttributeState] = state
}

// FindToken returns the slot holding value, if any. The ID token is included
// so revocation can address it, even though it is not a lookup key.
func (a *Authorization) FindToken(value string) (TokenType, *Token, bool) {
	if value == "" {
		return "", nil, false
	}
	switch {
	case a.AuthorizationCode != nil && a.AuthorizationCode.Value == value:
		return TokenTypeCode, a.AuthorizationCode, true
	case a.AccessToken != nil && a.AccessToken.Value == value:
		return TokenTypeAccessToken, &a.AccessToken.Token, true
	case a.RefreshToken != nil && a.RefreshToken.Value == value:
		return TokenTypeRefreshToken, a.RefreshToken, true
	case a.IDToken != nil && a.IDToken.Value == value:
		return TokenTypeIDToken, &a.IDToken.Token, true
	}
	return "", nil, false
}

// Invalidate marks the token holding value as revoked. Revoking a refresh
// token also revokes the access token and any authorization code of the same
// grant; revoking an authorization code also revokes the access token. It
// reports whether a token was found.
func (a *Authorization) Invalidate(value string) bool {
	tokenType, token, ok := a.FindToken(value)
	if !ok {
		return false
	}
	token.invalidate()

	switch tokenType {
	case TokenTypeRefreshToken:
		if a.AccessToken != nil {
			a.AccessToken.invalidate()
		}
		if a.AuthorizationCode != nil && !a.AuthorizationCode.IsInvalidated() {
			a.AuthorizationCode.invalidate()
		}
	case TokenTypeCode:
		if a.AccessToken != nil {
			a.AccessToken.invalidate()
		}
	}
	return true
}

// OAuth2Token renders the issued tokens as an *oauth2.Token for a token
// response. It returns nil when there is no access token.
func (a *Authorization) OAuth2Token() *oauth2.Token {
	if a.AccessToken == nil {
		return nil
	}

	tokenType := a.AccessToken.TokenType
	if tokenType == "" {
		tokenType = TokenTypeAccessTokenBearer
	}

	token := &oauth2.Token{
		AccessToken: a.AccessToken.Value,
		TokenType:   tokenType,
		Expiry:      a.AccessToken.ExpiresAt,
	}
	if a.RefreshToken != nil {
		token.RefreshToken = a.RefreshToken.Value
	}

	extra := map[string]any{}
	if len(a.AccessToken.Scopes) > 0 {
		extra["scope"] = strings.Join(a.AccessToken.Scopes, " ")
	}
	if a.IDToken != nil {
		extra["id_token"] = a.IDToken.Value
	}
	if len(extra) > 0 {
		token = token.WithExtra(extra)
	}
	return token
}

// IsAccessTokenActive reports whether the access token exists and is usable at now.
func (a *Authorization) IsAccessTokenActive(now time.Time) bool {
	return a.AccessToken != nil && a.AccessToken.IsActive(now)
}
