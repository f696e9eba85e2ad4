package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth-authz/storage"
)

// TestClientSecretHash is a well-formed bcrypt hash for fixtures whose secret is never verified.
const TestClientSecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString generates a random base64url string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GenerateTestClientRecord creates a confidential client allowed to use the
// password and JWT-bearer grants.
func GenerateTestClientRecord(id, clientID string) *storage.ClientRecord {
	secret := TestClientSecretHash
	return &storage.ClientRecord{
		ID:                          id,
		ClientID:                    clientID,
		ClientIDIssuedAt:            time.Now().UTC().Truncate(time.Second),
		ClientSecret:                &secret,
		ClientName:                  "Test Client",
		ClientAuthenticationMethods: "client_secret_basic,client_secret_post",
		AuthorizationGrantTypes:     "password,refresh_token,urn:ietf:params:oauth:grant-type:jwt-bearer",
		RedirectURIs:                "https://example.com/callback",
		Scopes:                      "openid,read,write",
		ClientSettings:              "{}",
		TokenSettings:               "{}",
	}
}

// TokenValues names the token values of a generated authorization record.
// Empty fields leave the matching slot absent.
type TokenValues struct {
	State   string
	Code    string
	Access  string
	Refresh string
	IDToken string
}

// GenerateTestAuthorizationRecord creates a complete record for clientID
// holding the given token values. Timestamps are truncated to microseconds so
// the record survives a round trip through any of the SQL backends.
func GenerateTestAuthorizationRecord(id, clientID string, values TokenValues) *storage.AuthorizationRecord {
	issued := time.Now().UTC().Truncate(time.Microsecond)
	str := func(s string) *string { return &s }
	at := func(d time.Duration) *time.Time { t := issued.Add(d); return &t }

	r := &storage.AuthorizationRecord{
		ID:                     id,
		RegisteredClientID:     clientID,
		PrincipalName:          "alice",
		AuthorizationGrantType: "password",
		AuthorizedScopes:       "read,write",
		Attributes:             "{}",
	}
	if values.State != "" {
		r.State = str(values.State)
	}
	if values.Code != "" {
		r.AuthorizationCodeValue = str(values.Code)
		r.AuthorizationCodeIssuedAt = at(0)
		r.AuthorizationCodeExpiresAt = at(5 * time.Minute)
		r.AuthorizationCodeMetadata = str("{}")
	}
	if values.Access != "" {
		r.AccessTokenValue = str(values.Access)
		r.AccessTokenIssuedAt = at(0)
		r.AccessTokenExpiresAt = at(time.Hour)
		r.AccessTokenMetadata = str("{}")
		r.AccessTokenType = str("Bearer")
		r.AccessTokenScopes = str("read,write")
	}
	if values.Refresh != "" {
		r.RefreshTokenValue = str(values.Refresh)
		r.RefreshTokenIssuedAt = at(0)
		r.RefreshTokenExpiresAt = at(24 * time.Hour)
		r.RefreshTokenMetadata = str("{}")
	}
	if values.IDToken != "" {
		r.OIDCIDTokenValue = str(values.IDToken)
		r.OIDCIDTokenIssuedAt = at(0)
		r.OIDCIDTokenExpiresAt = at(time.Hour)
		r.OIDCIDTokenMetadata = str("{}")
		r.OIDCIDTokenClaims = str(`{"sub":"alice"}`)
	}
	return r
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}
