package authorization

import "time"

// MetadataKeyInvalidated marks a token as invalidated (revoked) in its metadata.
const MetadataKeyInvalidated = "metadata.token.invalidated"

// TokenTypeAccessTokenBearer is the only access token type issued by this server.
const TokenTypeAccessTokenBearer = "Bearer"

// TokenType names a token slot of an Authorization. It doubles as the
// token_type_hint accepted by lookups.
type TokenType string

// Token slot names.
const (
	TokenTypeState        TokenType = "state"
	TokenTypeCode         TokenType = "code"
	TokenTypeAccessToken  TokenType = "access_token"
	TokenTypeRefreshToken TokenType = "refresh_token"
	TokenTypeIDToken      TokenType = "id_token"
)

// Token is the common part of every token slot.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Metadata  map[string]any
}

// IsExpired reports whether the token expired before now.
func (t *Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// IsInvalidated reports whether the token was revoked.
func (t *Token) IsInvalidated() bool {
	v, _ := t.Metadata[MetadataKeyInvalidated].(bool)
	return v
}

// IsActive reports whether the token is neither expired nor invalidated.
func (t *Token) IsActive(now time.Time) bool {
	return !t.IsInvalidated() && !t.IsExpired(now)
}

func (t *Token) invalidate() {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any, 1)
	}
	t.Metadata[MetadataKeyInvalidated] = true
}

// AccessToken is the access-token slot.
type AccessToken struct {
	Token
	TokenType string
	Scopes    []string
}

// IDToken is the OIDC ID token slot. Claims are kept apart from Metadata.
type IDToken struct {
	Token
	Claims map[string]any
}
