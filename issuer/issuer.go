// Package issuer provides a reference token issuer for the password and JWT
// bearer grants. It issues opaque access and refresh tokens and returns the
// resulting authorization; persisting it is up to the caller.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/grant"
)

// Attribute keys recorded on issued authorizations.
const (
	AttributeRequestedGrantType = "requested_grant_type"
	AttributeAssertionIssuer    = "assertion_issuer"
)

// assertionAlgorithms are the accepted JWT bearer assertion signing algorithms.
var assertionAlgorithms = []string{"HS256", "HS384", "HS512"}

// Config configures a ReferenceIssuer.
type Config struct {
	// Issuer is this server's issuer identifier. When set, JWT bearer
	// assertions must name it in their aud claim.
	Issuer string

	// Users verifies password grant credentials. Without it the password
	// grant is rejected.
	Users UserAuthenticator

	// AssertionKeys maps a trusted assertion issuer (iss claim) to its HMAC key.
	AssertionKeys map[string][]byte

	// ClockSkew is the leeway applied to assertion time claims.
	ClockSkew time.Duration

	Logger *slog.Logger
}

// ReferenceIssuer turns converted grant requests into authorizations.
type ReferenceIssuer struct {
	issuer        string
	users         UserAuthenticator
	assertionKeys map[string][]byte
	clockSkew     time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New returns an issuer configured by cfg.
func New(cfg Config) *ReferenceIssuer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keys := make(map[string][]byte, len(cfg.AssertionKeys))
	for iss, key := range cfg.AssertionKeys {
		keys[iss] = append([]byte(nil), key...)
	}
	return &ReferenceIssuer{
		issuer:        cfg.Issuer,
		users:         cfg.Users,
		assertionKeys: keys,
		clockSkew:     cfg.ClockSkew,
		logger:        logger,
		now:           time.Now,
	}
}

// Issue authenticates the resource owner named by req and returns a new
// authorization holding an access token and, if the client may refresh, a
// refresh token. Protocol failures are returned as *grant.Error.
func (i *ReferenceIssuer) Issue(ctx context.Context, req grant.AuthenticationRequest) (*authorization.Authorization, error) {
	principal := req.Client()
	if principal == nil || principal.Client == nil {
		return nil, grant.ErrInvalidClient
	}
	client := principal.Client

	attributes := map[string]any{}
	var principalName string
	switch r := req.(type) {
	case *grant.PasswordRequest:
		name, err := i.authenticateUser(ctx, r)
		if err != nil {
			return nil, err
		}
		principalName = name
		if r.RequestedGrantType != "" && r.RequestedGrantType != authorization.GrantTypePassword.String() {
			attributes[AttributeRequestedGrantType] = r.RequestedGrantType
		}
	case *grant.JWTBearerRequest:
		claims, err := i.verifyAssertion(r.Assertion)
		if err != nil {
			i.logger.Debug("Rejected JWT bearer assertion",
				"client_id", client.ClientID,
				"error", err)
			return nil, grant.NewError(grant.ErrorCodeInvalidGrant, "assertion is invalid")
		}
		principalName = claims.Subject
		attributes[AttributeAssertionIssuer] = claims.Issuer
	default:
		return nil, grant.NewError(grant.ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("grant type %s is not supported", req.GrantType()))
	}

	scopes := req.Scopes()
	if len(scopes) == 0 {
		scopes = client.Scopes
	} else if !client.AllowsScopes(scopes) {
		return nil, grant.NewError(grant.ErrorCodeInvalidScope, "requested scope exceeds the client's scope")
	}

	settings := client.TokenSettings
	defaults := authorization.DefaultTokenSettings()
	accessTTL := settings.AccessTokenTimeToLive
	if accessTTL <= 0 {
		accessTTL = defaults.AccessTokenTimeToLive
	}
	refreshTTL := settings.RefreshTokenTimeToLive
	if refreshTTL <= 0 {
		refreshTTL = defaults.RefreshTokenTimeToLive
	}

	now := i.now().UTC().Truncate(time.Microsecond)
	a := &authorization.Authorization{
		ID:                 uuid.NewString(),
		RegisteredClientID: client.ID,
		PrincipalName:      principalName,
		GrantType:          req.GrantType(),
		AuthorizedScopes:   scopes,
		Attributes:         attributes,
		AccessToken: &authorization.AccessToken{
			Token: authorization.Token{
				Value:     oauth2.GenerateVerifier(),
				IssuedAt:  now,
				ExpiresAt: now.Add(accessTTL),
			},
			TokenType: authorization.TokenTypeAccessTokenBearer,
			Scopes:    scopes,
		},
	}
	if client.SupportsGrantType(authorization.GrantTypeRefreshToken) {
		a.RefreshToken = &authorization.Token{
			Value:     oauth2.GenerateVerifier(),
			IssuedAt:  now,
			ExpiresAt: now.Add(refreshTTL),
		}
	}
	return a, nil
}

func (i *ReferenceIssuer) authenticateUser(ctx context.Context, r *grant.PasswordRequest) (string, error) {
	if i.users == nil {
		return "", grant.NewError(grant.ErrorCodeUnsupportedGrantType, "password grant is not enabled")
	}
	name, err := i.users.Authenticate(ctx, r.Username, r.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return "", grant.NewError(grant.ErrorCodeInvalidGrant, "bad resource owner credentials")
		}
		return "", fmt.Errorf("authenticate resource owner: %w", err)
	}
	return name, nil
}

// verifyAssertion checks signature, issuer, audience, expiry and subject of
// a JWT bearer assertion.
func (i *ReferenceIssuer) verifyAssertion(assertion string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(assertionAlgorithms),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.clockSkew),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithAudience(i.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(assertion, claims, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil {
			return nil, err
		}
		key, ok := i.assertionKeys[iss]
		if !ok {
			return nil, fmt.Errorf("untrusted assertion issuer %q", iss)
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("assertion has no subject")
	}
	return claims, nil
}
