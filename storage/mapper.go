package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/internal/util"
)

// AuthorizationMapper converts between AuthorizationRecord and
// authorization.Authorization.
type AuthorizationMapper struct {
	clients ClientReader
	codec   *codec.Codec
}

// NewAuthorizationMapper returns a mapper that resolves clients through
// clients and encodes maps with c. A nil codec stores maps in the clear.
func NewAuthorizationMapper(clients ClientReader, c *codec.Codec) *AuthorizationMapper {
	return &AuthorizationMapper{clients: clients, codec: c}
}

// ToAggregate rebuilds an authorization from its record. The referenced
// client must exist; a missing client is reported as ErrClientNotFound and is
// never skipped.
func (m *AuthorizationMapper) ToAggregate(ctx context.Context, r *AuthorizationRecord) (*authorization.Authorization, error) {
	if r == nil {
		return nil, errors.New("authorization record is nil")
	}

	if _, err := m.clients.GetClient(ctx, r.RegisteredClientID); err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, fmt.Errorf("authorization %s references registered client %s: %w",
				r.ID, r.RegisteredClientID, ErrClientNotFound)
		}
		return nil, fmt.Errorf("failed to resolve registered client %s: %w", r.RegisteredClientID, err)
	}

	attributes, err := m.codec.Decode(r.Attributes)
	if err != nil {
		return nil, fmt.Errorf("authorization %s attributes: %w", r.ID, err)
	}

	a := &authorization.Authorization{
		ID:                 r.ID,
		RegisteredClientID: r.RegisteredClientID,
		PrincipalName:      r.PrincipalName,
		GrantType:          authorization.ResolveGrantType(r.AuthorizationGrantType),
		AuthorizedScopes:   util.SplitSet(r.AuthorizedScopes),
		Attributes:         attributes,
		Version:            r.Version,
	}
	if r.State != nil && *r.State != "" {
		a.SetState(*r.State)
	}

	a.AuthorizationCode, err = m.readToken(r.ID, authorization.TokenTypeCode,
		r.AuthorizationCodeValue, r.AuthorizationCodeIssuedAt, r.AuthorizationCodeExpiresAt, r.AuthorizationCodeMetadata)
	if err != nil {
		return nil, err
	}

	accessToken, err := m.readToken(r.ID, authorization.TokenTypeAccessToken,
		r.AccessTokenValue, r.AccessTokenIssuedAt, r.AccessTokenExpiresAt, r.AccessTokenMetadata)
	if err != nil {
		return nil, err
	}
	if accessToken != nil {
		tokenType := authorization.TokenTypeAccessTokenBearer
		if r.AccessTokenType != nil && *r.AccessTokenType != "" {
			tokenType = *r.AccessTokenType
		}
		var scopes []string
		if r.AccessTokenScopes != nil {
			scopes = util.SplitSet(*r.AccessTokenScopes)
		}
		a.AccessToken = &authorization.AccessToken{Token: *accessToken, TokenType: tokenType, Scopes: scopes}
	}

	idToken, err := m.readToken(r.ID, authorization.TokenTypeIDToken,
		r.OIDCIDTokenValue, r.OIDCIDTokenIssuedAt, r.OIDCIDTokenExpiresAt, r.OIDCIDTokenMetadata)
	if err != nil {
		return nil, err
	}
	if idToken != nil {
		var claims map[string]any
		if r.OIDCIDTokenClaims != nil {
			if claims, err = m.codec.Decode(*r.OIDCIDTokenClaims); err != nil {
				return nil, fmt.Errorf("authorization %s id_token claims: %w", r.ID, err)
			}
		}
		a.IDToken = &authorization.IDToken{Token: *idToken, Claims: claims}
	}

	a.RefreshToken, err = m.readToken(r.ID, authorization.TokenTypeRefreshToken,
		r.RefreshTokenValue, r.RefreshTokenIssuedAt, r.RefreshTokenExpiresAt, r.RefreshTokenMetadata)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// readToken builds one slot. A slot without a value is absent; a slot with a
// value but without both instants is rejected.
func (m *AuthorizationMapper) readToken(id string, slot authorization.TokenType,
	value *string, issuedAt, expiresAt *time.Time, metadata *string,
) (*authorization.Token, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	if issuedAt == nil || expiresAt == nil || issuedAt.IsZero() || expiresAt.IsZero() {
		return nil, fmt.Errorf("authorization %s %s: %w", id, slot, ErrIncompleteTokenSlot)
	}

	t := &authorization.Token{
		Value:     *value,
		IssuedAt:  *issuedAt,
		ExpiresAt: *expiresAt,
	}
	if metadata != nil {
		md, err := m.codec.Decode(*metadata)
		if err != nil {
			return nil, fmt.Errorf("authorization %s %s metadata: %w", id, slot, err)
		}
		t.Metadata = md
	}
	return t, nil
}

// ToRecord flattens an authorization into its record. Absent slots leave
// their columns nil.
func (m *AuthorizationMapper) ToRecord(a *authorization.Authorization) (*AuthorizationRecord, error) {
	if a == nil {
		return nil, errors.New("authorization is nil")
	}

	attributes := maps.Clone(a.Attributes)
	delete(attributes, authorization.AttributeState)
	encodedAttributes, err := m.codec.Encode(attributes)
	if err != nil {
		return nil, fmt.Errorf("authorization %s attributes: %w", a.ID, err)
	}

	r := &AuthorizationRecord{
		ID:                     a.ID,
		RegisteredClientID:     a.RegisteredClientID,
		PrincipalName:          a.PrincipalName,
		AuthorizationGrantType: a.GrantType.String(),
		AuthorizedScopes:       util.JoinSet(a.AuthorizedScopes),
		Attributes:             encodedAttributes,
		Version:                a.Version,
	}
	if state := a.State(); state != "" {
		r.State = &state
	}

	if a.AuthorizationCode != nil {
		if r.AuthorizationCodeValue, r.AuthorizationCodeIssuedAt, r.AuthorizationCodeExpiresAt, r.AuthorizationCodeMetadata, err =
			m.writeToken(a.ID, authorization.TokenTypeCode, a.AuthorizationCode); err != nil {
			return nil, err
		}
	}

	if a.AccessToken != nil {
		if r.AccessTokenValue, r.AccessTokenIssuedAt, r.AccessTokenExpiresAt, r.AccessTokenMetadata, err =
			m.writeToken(a.ID, authorization.TokenTypeAccessToken, &a.AccessToken.Token); err != nil {
			return nil, err
		}
		tokenType := a.AccessToken.TokenType
		if tokenType == "" {
			tokenType = authorization.TokenTypeAccessTokenBearer
		}
		r.AccessTokenType = &tokenType
		if len(a.AccessToken.Scopes) > 0 {
			scopes := util.JoinSet(a.AccessToken.Scopes)
			r.AccessTokenScopes = &scopes
		}
	}

	if a.IDToken != nil {
		if r.OIDCIDTokenValue, r.OIDCIDTokenIssuedAt, r.OIDCIDTokenExpiresAt, r.OIDCIDTokenMetadata, err =
			m.writeToken(a.ID, authorization.TokenTypeIDToken, &a.IDToken.Token); err != nil {
			return nil, err
		}
		claims, err := m.codec.Encode(a.IDToken.Claims)
		if err != nil {
			return nil, fmt.Errorf("authorization %s id_token claims: %w", a.ID, err)
		}
		r.OIDCIDTokenClaims = &claims
	}

	if a.RefreshToken != nil {
		if r.RefreshTokenValue, r.RefreshTokenIssuedAt, r.RefreshTokenExpiresAt, r.RefreshTokenMetadata, err =
			m.writeToken(a.ID, authorization.TokenTypeRefreshToken, a.RefreshToken); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (m *AuthorizationMapper) writeToken(id string, slot authorization.TokenType, t *authorization.Token) (
	value *string, issuedAt, expiresAt *time.Time, metadata *string, err error,
) {
	if t.Value == "" || t.IssuedAt.IsZero() || t.ExpiresAt.IsZero() {
		return nil, nil, nil, nil, fmt.Errorf("authorization %s %s: %w", id, slot, ErrIncompleteTokenSlot)
	}
	md, err := m.codec.Encode(t.Metadata)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("authorization %s %s metadata: %w", id, slot, err)
	}
	v, iat, exp := t.Value, t.IssuedAt, t.ExpiresAt
	return &v, &iat, &exp, &md, nil
}
