package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/storage"
	"github.com/giantswarm/oauth-authz/storage/memory"
)

func newTestClientService(t *testing.T) (*ClientService, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return NewClientService(store, nil, discardLogger()), store
}

func TestClientService_RegisterDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestClientService(t)

	registered, err := svc.Register(ctx, &authorization.RegisteredClient{
		ClientSecret:            "s3cret",
		AuthorizationGrantTypes: []authorization.GrantType{authorization.GrantTypePassword},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, registered.ID)
	assert.NotEmpty(t, registered.ClientID)
	assert.False(t, registered.ClientIDIssuedAt.IsZero())
	assert.True(t, isBcryptHash(registered.ClientSecret), "secret must be stored hashed")
	assert.NoError(t, VerifySecret(registered.ClientSecret, "s3cret"))
	assert.Equal(t, []authorization.ClientAuthenticationMethod{authorization.ClientAuthenticationMethodClientSecretBasic},
		registered.ClientAuthenticationMethods)

	found, err := svc.FindByClientID(ctx, registered.ClientID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, registered.ID, found.ID)
	assert.Equal(t, registered.ClientSecret, found.ClientSecret)
}

func TestClientService_RegisterKeepsHash(t *testing.T) {
	hash, err := HashSecret("already-hashed")
	require.NoError(t, err)

	svc, _ := newTestClientService(t)
	registered, err := svc.Register(context.Background(), &authorization.RegisteredClient{
		ClientID:     "hashed",
		ClientSecret: hash,
	})
	require.NoError(t, err)
	assert.Equal(t, hash, registered.ClientSecret)
}

func TestClientService_RegisterPublicClient(t *testing.T) {
	svc, _ := newTestClientService(t)
	registered, err := svc.Register(context.Background(), &authorization.RegisteredClient{ClientID: "public"})
	require.NoError(t, err)
	assert.Empty(t, registered.ClientSecret)
	assert.Equal(t, []authorization.ClientAuthenticationMethod{authorization.ClientAuthenticationMethodNone},
		registered.ClientAuthenticationMethods)
}

func TestClientService_RegisterDuplicateClientID(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestClientService(t)

	_, err := svc.Register(ctx, &authorization.RegisteredClient{ID: "one", ClientID: "dup"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, &authorization.RegisteredClient{ID: "two", ClientID: "dup"})
	assert.ErrorIs(t, err, storage.ErrDuplicateClientID)

	_, err = svc.Register(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClientService_FindNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestClientService(t)

	c, err := svc.FindByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = svc.FindByClientID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = svc.FindByClientID(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClientService_Authenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestClientService(t)

	expired := time.Now().Add(-time.Hour)
	for _, c := range []*authorization.RegisteredClient{
		{
			ClientID:     "confidential",
			ClientSecret: "right",
			ClientAuthenticationMethods: []authorization.ClientAuthenticationMethod{
				authorization.ClientAuthenticationMethodClientSecretBasic,
			},
		},
		{
			ClientID:              "expired",
			ClientSecret:          "right",
			ClientSecretExpiresAt: &expired,
		},
		{ClientID: "public"},
	} {
		_, err := svc.Register(ctx, c)
		require.NoError(t, err)
	}

	basic := authorization.ClientAuthenticationMethodClientSecretBasic
	post := authorization.ClientAuthenticationMethodClientSecretPost
	none := authorization.ClientAuthenticationMethodNone

	tests := []struct {
		name     string
		clientID string
		secret   string
		method   authorization.ClientAuthenticationMethod
		wantErr  bool
	}{
		{name: "valid secret", clientID: "confidential", secret: "right", method: basic},
		{name: "wrong secret", clientID: "confidential", secret: "wrong", method: basic, wantErr: true},
		{name: "method not allowed", clientID: "confidential", secret: "right", method: post, wantErr: true},
		{name: "unknown client", clientID: "nobody", secret: "right", method: basic, wantErr: true},
		{name: "blank client", clientID: "", secret: "right", method: basic, wantErr: true},
		{name: "expired secret", clientID: "expired", secret: "right", method: basic, wantErr: true},
		{name: "public client", clientID: "public", method: none},
		{name: "public client with secret", clientID: "public", secret: "x", method: none, wantErr: true},
		{name: "confidential client without secret", clientID: "confidential", method: none, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.Authenticate(ctx, tt.clientID, tt.secret, tt.method)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrClientAuthenticationFailed)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Equal(t, tt.clientID, c.ClientID)
		})
	}
}

func TestClientService_RegistrationMetrics(t *testing.T) {
	inst, reader := newTestInstrumentation(t)
	svc, _ := newTestClientService(t)
	svc.SetInstrumentation(inst)

	_, err := svc.Register(context.Background(), &authorization.RegisteredClient{ClientID: "metered"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counterTotal(t, reader, "oauth.client.registered"))
}

func TestGenerateClientSecret(t *testing.T) {
	a, b := GenerateClientSecret(), GenerateClientSecret()
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 43)
}
