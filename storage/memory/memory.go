package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token values
	tokenIDLogLength = 8

	// maxGenerateAttempts bounds retries when a freshly generated one-time
	// token collides with an outstanding one.
	maxGenerateAttempts = 3
)

// tokenRef locates a token value inside the stored authorizations.
type tokenRef struct {
	authorizationID string
	tokenType       authorization.TokenType
}

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	authorizations map[string]*storage.AuthorizationRecord
	tokenIndex     map[string]tokenRef // token value -> owning slot

	clients   map[string]*storage.ClientRecord
	clientIDs map[string]string // client_id -> id

	ottMu         sync.Mutex
	oneTimeTokens map[string]*storage.OneTimeToken
	ottTTL        time.Duration

	now func() time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	authorizationsCount atomic.Int64
	clientsCount        atomic.Int64
	oneTimeTokensCount  atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.AuthorizationStore = (*Store)(nil)
	_ storage.ClientStore        = (*Store)(nil)
	_ storage.OneTimeTokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		authorizations:  make(map[string]*storage.AuthorizationRecord),
		tokenIndex:      make(map[string]tokenRef),
		clients:         make(map[string]*storage.ClientRecord),
		clientIDs:       make(map[string]string),
		oneTimeTokens:   make(map[string]*storage.OneTimeToken),
		ottTTL:          storage.DefaultOneTimeTokenTTL,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetOneTimeTokenTTL sets how long generated one-time tokens stay valid.
// Non-positive values are ignored.
func (s *Store) SetOneTimeTokenTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.ottMu.Lock()
	defer s.ottMu.Unlock()
	s.ottTTL = ttl
}

// SetClock replaces the time source used for one-time token expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.ottMu.Lock()
	defer s.ottMu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.authorizationsCount.Store(int64(len(s.authorizations)))
	s.clientsCount.Store(int64(len(s.clients)))
	logger := s.logger
	s.mu.Unlock()

	s.ottMu.Lock()
	s.oneTimeTokensCount.Store(int64(len(s.oneTimeTokens)))
	s.ottMu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.authorizationsCount.Load() },
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.oneTimeTokensCount.Load() },
		)
		if err != nil {
			logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// AuthorizationStore Implementation
// ============================================================

// SaveAuthorization inserts or updates an authorization record.
func (s *Store) SaveAuthorization(ctx context.Context, record *storage.AuthorizationRecord) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization", err, startTime)
	}()

	if record == nil {
		return fmt.Errorf("authorization record cannot be nil")
	}
	if record.ID == "" {
		return fmt.Errorf("authorization id cannot be empty")
	}

	values := record.TokenValues()
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: value repeated across slots of authorization %s", storage.ErrDuplicateTokenValue, record.ID)
		}
		seen[v] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.authorizations[record.ID]
	switch {
	case exists && existing.Version != record.Version:
		return fmt.Errorf("%w: %s has version %d, caller has %d",
			storage.ErrConcurrentModification, record.ID, existing.Version, record.Version)
	case !exists && record.Version != 0:
		return fmt.Errorf("%w: %s no longer exists", storage.ErrConcurrentModification, record.ID)
	}

	for tokenType, v := range values {
		if ref, taken := s.tokenIndex[v]; taken && ref.authorizationID != record.ID {
			return fmt.Errorf("%w: %s value of authorization %s", storage.ErrDuplicateTokenValue, tokenType, record.ID)
		}
	}

	if exists {
		for _, v := range existing.TokenValues() {
			delete(s.tokenIndex, v)
		}
	}
	for tokenType, v := range values {
		s.tokenIndex[v] = tokenRef{authorizationID: record.ID, tokenType: tokenType}
	}

	stored := record.Clone()
	stored.Version = record.Version + 1
	s.authorizations[record.ID] = stored
	record.Version = stored.Version

	if !exists {
		s.authorizationsCount.Add(1)
	}

	s.logger.Debug("Saved authorization",
		"authorization_id", record.ID,
		"client_id", record.RegisteredClientID,
		"version", stored.Version)
	return nil
}

// DeleteAuthorization removes an authorization and its token index entries.
func (s *Store) DeleteAuthorization(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_authorization", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.authorizations[id]
	if !ok {
		return nil
	}
	for _, v := range existing.TokenValues() {
		delete(s.tokenIndex, v)
	}
	delete(s.authorizations, id)
	s.authorizationsCount.Add(-1)

	s.logger.Debug("Deleted authorization", "authorization_id", id)
	return nil
}

// GetAuthorization retrieves an authorization by id.
func (s *Store) GetAuthorization(ctx context.Context, id string) (record *storage.AuthorizationRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_authorization", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.authorizations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, id)
	}
	return stored.Clone(), nil
}

// FindAuthorizationByToken retrieves the authorization whose tokenType slot holds value.
func (s *Store) FindAuthorizationByToken(ctx context.Context, tokenType authorization.TokenType, value string) (record *storage.AuthorizationRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_authorization_by_token")
	defer span.End()
	span.SetAttributes(attribute.String(instrumentation.AttrTokenType, string(tokenType)))

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_authorization_by_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.tokenIndex[value]
	if !ok || ref.tokenType != tokenType || !storage.IsLookupTokenType(tokenType) {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrAuthorizationNotFound, tokenType, util.SafeTruncate(value, tokenIDLogLength))
	}
	return s.authorizations[ref.authorizationID].Clone(), nil
}

// FindAuthorizationByAnyToken retrieves the authorization holding value in any lookup slot.
func (s *Store) FindAuthorizationByAnyToken(ctx context.Context, value string) (record *storage.AuthorizationRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_authorization_by_any_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_authorization_by_any_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.tokenIndex[value]
	if !ok || !storage.IsLookupTokenType(ref.tokenType) {
		return nil, fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, util.SafeTruncate(value, tokenIDLogLength))
	}
	return s.authorizations[ref.authorizationID].Clone(), nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient inserts or replaces a registered client.
func (s *Store) SaveClient(ctx context.Context, client *storage.ClientRecord) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if client.ID == "" || client.ClientID == "" {
		return fmt.Errorf("client id and client_id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.clientIDs[client.ClientID]; ok && owner != client.ID {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateClientID, client.ClientID)
	}

	existing, exists := s.clients[client.ID]
	if exists && existing.ClientID != client.ClientID {
		delete(s.clientIDs, existing.ClientID)
	}
	s.clients[client.ID] = client.Clone()
	s.clientIDs[client.ClientID] = client.ID

	if !exists {
		s.clientsCount.Add(1)
	}

	s.logger.Debug("Saved client", "id", client.ID, "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, id string) (client *storage.ClientRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
	}
	return stored.Clone(), nil
}

// GetClientByClientID retrieves a client by its client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (client *storage.ClientRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client_by_client_id")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client_by_client_id", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientIDs[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	return s.clients[id].Clone(), nil
}

// ============================================================
// OneTimeTokenStore Implementation
// ============================================================

// Generate issues a new one-time token for username.
func (s *Store) Generate(ctx context.Context, username string) (token *storage.OneTimeToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "generate_one_time_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "generate_one_time_token", err, startTime)
	}()

	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	s.ottMu.Lock()
	defer s.ottMu.Unlock()

	for range maxGenerateAttempts {
		value := oauth2.GenerateVerifier()
		if _, taken := s.oneTimeTokens[value]; taken {
			continue
		}
		token = &storage.OneTimeToken{
			Value:     value,
			Username:  username,
			ExpiresAt: s.now().Add(s.ottTTL),
		}
		stored := *token
		s.oneTimeTokens[value] = &stored
		s.oneTimeTokensCount.Add(1)
		return token, nil
	}
	return nil, fmt.Errorf("failed to generate a unique one-time token after %d attempts", maxGenerateAttempts)
}

// Consume removes and returns a one-time token. An expired entry is discarded
// and reported as not found.
func (s *Store) Consume(ctx context.Context, value string) (token *storage.OneTimeToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_one_time_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_one_time_token", err, startTime)
	}()

	s.ottMu.Lock()
	stored, ok := s.oneTimeTokens[value]
	if ok {
		delete(s.oneTimeTokens, value)
		s.oneTimeTokensCount.Add(-1)
	}
	expired := ok && stored.IsExpired(s.now())
	s.ottMu.Unlock()

	if !ok {
		return nil, storage.ErrOneTimeTokenNotFound
	}
	if expired {
		s.mu.RLock()
		logger := s.logger
		s.mu.RUnlock()
		logger.Debug("Discarded expired one-time token",
			"token_prefix", util.SafeTruncate(value, tokenIDLogLength))
		return nil, storage.ErrOneTimeTokenNotFound
	}
	return stored, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired one-time tokens. Authorizations are only removed
// explicitly, since an expired access token may still be refreshed.
func (s *Store) cleanup() {
	s.ottMu.Lock()
	now := s.now()
	cleaned := 0
	for value, token := range s.oneTimeTokens {
		if token.IsExpired(now) {
			delete(s.oneTimeTokens, value)
			cleaned++
		}
	}
	s.oneTimeTokensCount.Add(int64(-cleaned))
	s.ottMu.Unlock()

	if cleaned > 0 {
		s.mu.RLock()
		logger := s.logger
		s.mu.RUnlock()
		logger.Debug("Cleaned up expired one-time tokens", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, "memory", operation, result, durationMs)
}
