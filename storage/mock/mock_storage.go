// Package mock provides mock implementations of storage interfaces for testing.
//
// Every mock delegates to an in-memory store by default. Tests replace the
// individual *Func fields to inject failures such as concurrent modification
// or an unavailable backend.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/storage"
	"github.com/giantswarm/oauth-authz/storage/memory"
)

var (
	_ storage.AuthorizationStore = (*MockAuthorizationStore)(nil)
	_ storage.ClientStore        = (*MockClientStore)(nil)
	_ storage.OneTimeTokenStore  = (*MockOneTimeTokenStore)(nil)
)

// callCounter counts calls per method name.
type callCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *callCounter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

// CallCount returns how often the named method was called.
func (c *callCounter) CallCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

// ResetCallCounts resets all call counters
func (c *callCounter) ResetCallCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
}

// MockAuthorizationStore is a mock implementation of AuthorizationStore for testing
type MockAuthorizationStore struct {
	callCounter

	// Backing is the store the default funcs delegate to.
	Backing *memory.Store

	SaveFunc        func(ctx context.Context, record *storage.AuthorizationRecord) error
	DeleteFunc      func(ctx context.Context, id string) error
	GetFunc         func(ctx context.Context, id string) (*storage.AuthorizationRecord, error)
	FindByTokenFunc func(ctx context.Context, tokenType authorization.TokenType, value string) (*storage.AuthorizationRecord, error)
	FindByAnyFunc   func(ctx context.Context, value string) (*storage.AuthorizationRecord, error)
}

// NewMockAuthorizationStore creates a mock backed by backing. A nil backing
// gets a fresh in-memory store.
func NewMockAuthorizationStore(backing *memory.Store) *MockAuthorizationStore {
	if backing == nil {
		backing = memory.New()
	}
	return &MockAuthorizationStore{
		Backing:         backing,
		SaveFunc:        backing.SaveAuthorization,
		DeleteFunc:      backing.DeleteAuthorization,
		GetFunc:         backing.GetAuthorization,
		FindByTokenFunc: backing.FindAuthorizationByToken,
		FindByAnyFunc:   backing.FindAuthorizationByAnyToken,
	}
}

// SaveAuthorization saves an authorization record
func (m *MockAuthorizationStore) SaveAuthorization(ctx context.Context, record *storage.AuthorizationRecord) error {
	m.inc("SaveAuthorization")
	return m.SaveFunc(ctx, record)
}

// DeleteAuthorization removes an authorization record
func (m *MockAuthorizationStore) DeleteAuthorization(ctx context.Context, id string) error {
	m.inc("DeleteAuthorization")
	return m.DeleteFunc(ctx, id)
}

// GetAuthorization retrieves an authorization record by id
func (m *MockAuthorizationStore) GetAuthorization(ctx context.Context, id string) (*storage.AuthorizationRecord, error) {
	m.inc("GetAuthorization")
	return m.GetFunc(ctx, id)
}

// FindAuthorizationByToken retrieves an authorization record by token value and type
func (m *MockAuthorizationStore) FindAuthorizationByToken(ctx context.Context, tokenType authorization.TokenType, value string) (*storage.AuthorizationRecord, error) {
	m.inc("FindAuthorizationByToken")
	return m.FindByTokenFunc(ctx, tokenType, value)
}

// FindAuthorizationByAnyToken retrieves an authorization record by token value
func (m *MockAuthorizationStore) FindAuthorizationByAnyToken(ctx context.Context, value string) (*storage.AuthorizationRecord, error) {
	m.inc("FindAuthorizationByAnyToken")
	return m.FindByAnyFunc(ctx, value)
}

// MockClientStore is a mock implementation of ClientStore for testing
type MockClientStore struct {
	callCounter

	Backing *memory.Store

	SaveFunc          func(ctx context.Context, client *storage.ClientRecord) error
	GetFunc           func(ctx context.Context, id string) (*storage.ClientRecord, error)
	GetByClientIDFunc func(ctx context.Context, clientID string) (*storage.ClientRecord, error)
}

// NewMockClientStore creates a mock backed by backing. A nil backing gets a
// fresh in-memory store.
func NewMockClientStore(backing *memory.Store) *MockClientStore {
	if backing == nil {
		backing = memory.New()
	}
	return &MockClientStore{
		Backing:           backing,
		SaveFunc:          backing.SaveClient,
		GetFunc:           backing.GetClient,
		GetByClientIDFunc: backing.GetClientByClientID,
	}
}

// SaveClient saves a registered client
func (m *MockClientStore) SaveClient(ctx context.Context, client *storage.ClientRecord) error {
	m.inc("SaveClient")
	return m.SaveFunc(ctx, client)
}

// GetClient retrieves a registered client by id
func (m *MockClientStore) GetClient(ctx context.Context, id string) (*storage.ClientRecord, error) {
	m.inc("GetClient")
	return m.GetFunc(ctx, id)
}

// GetClientByClientID retrieves a registered client by client_id
func (m *MockClientStore) GetClientByClientID(ctx context.Context, clientID string) (*storage.ClientRecord, error) {
	m.inc("GetClientByClientID")
	return m.GetByClientIDFunc(ctx, clientID)
}

// MockOneTimeTokenStore is a mock implementation of OneTimeTokenStore for testing
type MockOneTimeTokenStore struct {
	callCounter

	Backing *memory.Store

	GenerateFunc func(ctx context.Context, username string) (*storage.OneTimeToken, error)
	ConsumeFunc  func(ctx context.Context, value string) (*storage.OneTimeToken, error)
}

// NewMockOneTimeTokenStore creates a mock backed by backing. A nil backing
// gets a fresh in-memory store.
func NewMockOneTimeTokenStore(backing *memory.Store) *MockOneTimeTokenStore {
	if backing == nil {
		backing = memory.New()
	}
	return &MockOneTimeTokenStore{
		Backing:      backing,
		GenerateFunc: backing.Generate,
		ConsumeFunc:  backing.Consume,
	}
}

// Generate issues a one-time token
func (m *MockOneTimeTokenStore) Generate(ctx context.Context, username string) (*storage.OneTimeToken, error) {
	m.inc("Generate")
	return m.GenerateFunc(ctx, username)
}

// Consume redeems a one-time token
func (m *MockOneTimeTokenStore) Consume(ctx context.Context, value string) (*storage.OneTimeToken, error) {
	m.inc("Consume")
	return m.ConsumeFunc(ctx, value)
}
