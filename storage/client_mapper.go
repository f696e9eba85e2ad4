package storage

import (
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/internal/util"
)

// ClientMapper converts between ClientRecord and authorization.RegisteredClient.
type ClientMapper struct {
	codec *codec.Codec
}

// NewClientMapper returns a mapper encoding settings with c.
func NewClientMapper(c *codec.Codec) *ClientMapper {
	return &ClientMapper{codec: c}
}

// ToObject builds a RegisteredClient from its record. Authentication methods
// and grant types outside the well-known sets are kept as custom values.
func (m *ClientMapper) ToObject(r *ClientRecord) (*authorization.RegisteredClient, error) {
	if r == nil {
		return nil, errors.New("client record is nil")
	}

	c := &authorization.RegisteredClient{
		ID:                     r.ID,
		ClientID:               r.ClientID,
		ClientIDIssuedAt:       r.ClientIDIssuedAt,
		ClientName:             r.ClientName,
		RedirectURIs:           util.SplitSet(r.RedirectURIs),
		PostLogoutRedirectURIs: util.SplitSet(r.PostLogoutRedirectURIs),
		Scopes:                 util.SplitSet(r.Scopes),
	}
	if r.ClientSecret != nil {
		c.ClientSecret = *r.ClientSecret
	}
	if r.ClientSecretExpiresAt != nil {
		t := *r.ClientSecretExpiresAt
		c.ClientSecretExpiresAt = &t
	}

	for _, s := range util.SplitSet(r.ClientAuthenticationMethods) {
		c.ClientAuthenticationMethods = append(c.ClientAuthenticationMethods,
			authorization.ResolveClientAuthenticationMethod(s))
	}
	for _, s := range util.SplitSet(r.AuthorizationGrantTypes) {
		c.AuthorizationGrantTypes = append(c.AuthorizationGrantTypes, authorization.ResolveGrantType(s))
	}

	clientSettings, err := m.codec.Decode(r.ClientSettings)
	if err != nil {
		return nil, fmt.Errorf("client %s settings: %w", r.ID, err)
	}
	if c.ClientSettings, err = authorization.ClientSettingsFromMap(clientSettings); err != nil {
		return nil, fmt.Errorf("client %s settings: %w", r.ID, err)
	}

	tokenSettings, err := m.codec.Decode(r.TokenSettings)
	if err != nil {
		return nil, fmt.Errorf("client %s token settings: %w", r.ID, err)
	}
	if c.TokenSettings, err = authorization.TokenSettingsFromMap(tokenSettings); err != nil {
		return nil, fmt.Errorf("client %s token settings: %w", r.ID, err)
	}

	return c, nil
}

// ToEntity is the inverse of ToObject.
func (m *ClientMapper) ToEntity(c *authorization.RegisteredClient) (*ClientRecord, error) {
	if c == nil {
		return nil, errors.New("registered client is nil")
	}

	r := &ClientRecord{
		ID:                     c.ID,
		ClientID:               c.ClientID,
		ClientIDIssuedAt:       c.ClientIDIssuedAt,
		ClientName:             c.ClientName,
		RedirectURIs:           util.JoinSet(c.RedirectURIs),
		PostLogoutRedirectURIs: util.JoinSet(c.PostLogoutRedirectURIs),
		Scopes:                 util.JoinSet(c.Scopes),
	}
	if c.ClientSecret != "" {
		secret := c.ClientSecret
		r.ClientSecret = &secret
	}
	if c.ClientSecretExpiresAt != nil {
		t := *c.ClientSecretExpiresAt
		r.ClientSecretExpiresAt = &t
	}

	methods := make([]string, 0, len(c.ClientAuthenticationMethods))
	for _, method := range c.ClientAuthenticationMethods {
		methods = append(methods, method.String())
	}
	r.ClientAuthenticationMethods = util.JoinSet(methods)

	grantTypes := make([]string, 0, len(c.AuthorizationGrantTypes))
	for _, gt := range c.AuthorizationGrantTypes {
		grantTypes = append(grantTypes, gt.String())
	}
	r.AuthorizationGrantTypes = util.JoinSet(grantTypes)

	var err error
	if r.ClientSettings, err = m.codec.Encode(c.ClientSettings.ToMap()); err != nil {
		return nil, fmt.Errorf("client %s settings: %w", c.ID, err)
	}
	if r.TokenSettings, err = m.codec.Encode(c.TokenSettings.ToMap()); err != nil {
		return nil, fmt.Errorf("client %s token settings: %w", c.ID, err)
	}

	return r, nil
}
