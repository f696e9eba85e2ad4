package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/issuer"
	"github.com/giantswarm/oauth-authz/storage"
	"github.com/giantswarm/oauth-authz/storage/memory"
)

const (
	testIssuer       = "https://auth.example.com"
	testClientSecret = "s3cret-value"
	testUser         = "alice"
	testPassword     = "pw123"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// captureNotifier records the last link delivered per username.
type captureNotifier struct {
	mu    sync.Mutex
	links map[string]string
}

func (n *captureNotifier) Deliver(_ context.Context, username, link string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links == nil {
		n.links = make(map[string]string)
	}
	n.links[username] = link
	return nil
}

func (n *captureNotifier) token(t *testing.T, username string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	link, ok := n.links[username]
	require.True(t, ok, "no link delivered for %s", username)
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type testEnv struct {
	store        *memory.Store
	server       *Server
	handler      http.Handler
	notifier     *captureNotifier
	confidential *authorization.RegisteredClient
	other        *authorization.RegisteredClient
	public       *authorization.RegisteredClient
	limited      *authorization.RegisteredClient
}

// newTestEnv builds a server over a memory store with four clients:
// "confidential" and "other" (basic and post, every grant), "public" (none)
// and "limited" (JWT bearer only).
func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, nil, configure...)
}

func newTestEnvWithStore(t *testing.T, authorizations storage.AuthorizationStore, configure ...func(*Config)) *testEnv {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	if authorizations == nil {
		authorizations = store
	}

	users := issuer.NewStaticUsers()
	require.NoError(t, users.AddUser(testUser, testPassword))
	iss := issuer.New(issuer.Config{Issuer: testIssuer, Users: users, Logger: discardLogger()})

	notifier := &captureNotifier{}
	config := &Config{
		Issuer: testIssuer,
		OneTimeToken: OneTimeTokenConfig{
			Notifier: notifier,
		},
	}
	for _, f := range configure {
		f(config)
	}

	srv, err := NewServer(Stores{
		Authorizations: authorizations,
		Clients:        store,
		OneTimeTokens:  store,
	}, iss, nil, config, discardLogger())
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	env := &testEnv{
		store:    store,
		server:   srv,
		notifier: notifier,
	}

	secretMethods := []authorization.ClientAuthenticationMethod{
		authorization.ClientAuthenticationMethodClientSecretBasic,
		authorization.ClientAuthenticationMethodClientSecretPost,
	}
	allGrants := []authorization.GrantType{
		authorization.GrantTypePassword,
		authorization.GrantTypeRefreshToken,
		authorization.GrantTypeJWTBearer,
	}
	env.confidential = env.register(t, &authorization.RegisteredClient{
		ClientID:                    "confidential",
		ClientSecret:                testClientSecret,
		ClientAuthenticationMethods: secretMethods,
		AuthorizationGrantTypes:     allGrants,
		Scopes:                      []string{"read", "write"},
	})
	env.other = env.register(t, &authorization.RegisteredClient{
		ClientID:                    "other",
		ClientSecret:                testClientSecret,
		ClientAuthenticationMethods: secretMethods,
		AuthorizationGrantTypes:     allGrants,
		Scopes:                      []string{"read"},
	})
	env.public = env.register(t, &authorization.RegisteredClient{
		ClientID:                "public",
		AuthorizationGrantTypes: allGrants,
		Scopes:                  []string{"read"},
	})
	env.limited = env.register(t, &authorization.RegisteredClient{
		ClientID:                    "limited",
		ClientSecret:                testClientSecret,
		ClientAuthenticationMethods: secretMethods,
		AuthorizationGrantTypes:     []authorization.GrantType{authorization.GrantTypeJWTBearer},
		Scopes:                      []string{"read"},
	})

	env.handler = NewHandler(srv, discardLogger()).Routes()
	return env
}

func (e *testEnv) register(t *testing.T, c *authorization.RegisteredClient) *authorization.RegisteredClient {
	t.Helper()
	c.TokenSettings = authorization.DefaultTokenSettings()
	c.ClientSettings = authorization.DefaultClientSettings()
	registered, err := e.server.Clients.Register(context.Background(), c)
	require.NoError(t, err)
	return registered
}

// post sends form to path, authenticating with HTTP Basic when clientID is set.
func (e *testEnv) post(t *testing.T, path, clientID string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		req.SetBasicAuth(clientID, testClientSecret)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// passwordToken obtains a token response for testUser as the confidential client.
func (e *testEnv) passwordToken(t *testing.T, scope string) TokenResponse {
	t.Helper()
	form := url.Values{
		"grant_type": {"password"},
		"username":   {testUser},
		"password":   {testPassword},
	}
	if scope != "" {
		form.Set("scope", scope)
	}
	rec := e.post(t, TokenPath, e.confidential.ClientID, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (e *testEnv) introspect(t *testing.T, token, hint string) IntrospectionResponse {
	t.Helper()
	form := url.Values{"token": {token}}
	if hint != "" {
		form.Set("token_type_hint", hint)
	}
	rec := e.post(t, IntrospectionPath, e.confidential.ClientID, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp IntrospectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}
