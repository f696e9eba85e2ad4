package valkey

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authz:"

	// tokenIDLogLength is the number of characters to include when logging token values
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxGenerateAttempts bounds retries when a generated one-time token
	// collides with an outstanding one.
	maxGenerateAttempts = 3

	// MaxTokenLength is the maximum allowed length for token values (4KB).
	// ID tokens are JWTs and can be long, but a value is also part of a key.
	MaxTokenLength = 4096
)

// errInputTooLarge is returned for token values above MaxTokenLength.
var errInputTooLarge = errors.New("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authz:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// DisableClientCache turns off valkey-go client side caching. Servers
	// without CLIENT TRACKING support need this.
	DisableClientCache bool

	// OneTimeTokenTTL is how long generated one-time tokens stay valid
	// (default storage.DefaultOneTimeTokenTTL)
	OneTimeTokenTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the authorization, client and
// one-time token stores.
type Store struct {
	client valkeygo.Client
	prefix string
	ottTTL time.Duration
	now    func() time.Time
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.AuthorizationStore = (*Store)(nil)
	_ storage.ClientStore        = (*Store)(nil)
	_ storage.OneTimeTokenStore  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.OneTimeTokenTTL
	if ttl <= 0 {
		ttl = storage.DefaultOneTimeTokenTTL
	}

	// Build client options
	opts := valkeygo.ClientOption{
		InitAddress:  []string{cfg.Address},
		SelectDB:     cfg.DB,
		DisableCache: cfg.DisableClientCache,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		ottTTL: ttl,
		now:    time.Now,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Key Helpers
// ============================================================

// authorizationKey returns the key for an authorization: {prefix}authorization:{id}
func (s *Store) authorizationKey(id string) string {
	return fmt.Sprintf("%sauthorization:%s", s.prefix, id)
}

// tokenKeyPrefix is prepended to a token value to form its index key.
func (s *Store) tokenKeyPrefix() string {
	return s.prefix + "token:"
}

// tokenKey returns the index key of a token value: {prefix}token:{value}
func (s *Store) tokenKey(value string) string {
	return s.tokenKeyPrefix() + value
}

// clientKey returns the key for a client: {prefix}client:{id}
func (s *Store) clientKey(id string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, id)
}

// clientIDKeyPrefix is prepended to a client_id to form its index key.
func (s *Store) clientIDKeyPrefix() string {
	return s.prefix + "client_id:"
}

// clientIDKey returns the index key of a client_id: {prefix}client_id:{clientID}
func (s *Store) clientIDKey(clientID string) string {
	return s.clientIDKeyPrefix() + clientID
}

// oneTimeTokenKey returns the key for a one-time token: {prefix}ott:{value}
func (s *Store) oneTimeTokenKey(value string) string {
	return fmt.Sprintf("%sott:%s", s.prefix, value)
}

// ============================================================
// Helpers
// ============================================================

// isNilError checks if the error is a Valkey nil response (key not found)
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// scriptError extracts the marker of an error reply raised by one of the Lua
// scripts, or "" for any other error.
func scriptError(err error) string {
	var verr *valkeygo.ValkeyError
	if !errors.As(err, &verr) {
		return ""
	}
	msg := verr.Error()
	for _, marker := range []string{scriptConflict, scriptDuplicate} {
		if strings.Contains(msg, marker) {
			return marker
		}
	}
	return ""
}

// validateStringLength checks if a string exceeds the maximum allowed length
func validateStringLength(value string, maxLen int, fieldName string) error {
	if len(value) > maxLen {
		return fmt.Errorf("%w: %s exceeds maximum length of %d bytes", errInputTooLarge, fieldName, maxLen)
	}
	return nil
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
			attribute.String(instrumentation.AttrStorageType, "valkey"),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, storage.ErrAuthorizationNotFound),
		errors.Is(err, storage.ErrClientNotFound),
		errors.Is(err, storage.ErrOneTimeTokenNotFound):
		result = "not_found"
	default:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, "valkey", operation, result, durationMs)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// Error reply markers raised by the scripts below.
const (
	scriptConflict  = "CONFLICT"
	scriptDuplicate = "DUPLICATE"
)

// luaSaveAuthorization writes an authorization and rewrites its token index
// after checking the expected version and that no other authorization holds
// any of the new token values.
//
// KEYS[1] = authorization key
// ARGV[1] = expected version (0 for a new authorization)
// ARGV[2] = JSON record
// ARGV[3] = token key prefix
// ARGV[4] = authorization id
// ARGV[5..] = token_type, token_value pairs
//
// Returns the new version, or an error reply starting with CONFLICT or DUPLICATE.
const luaSaveAuthorization = `
local expected = tonumber(ARGV[1])
local current = redis.call('HGET', KEYS[1], 'version')
if current then
	if tonumber(current) ~= expected then
		return redis.error_reply('CONFLICT stored version ' .. current)
	end
elseif expected ~= 0 then
	return redis.error_reply('CONFLICT authorization no longer exists')
end

for i = 5, #ARGV, 2 do
	local owner = redis.call('HGET', ARGV[3] .. ARGV[i + 1], 'authorization_id')
	if owner and owner ~= ARGV[4] then
		return redis.error_reply('DUPLICATE ' .. ARGV[i])
	end
end

local old = redis.call('HGET', KEYS[1], 'tokens')
if old then
	for value in string.gmatch(old, '[^\n]+') do
		redis.call('DEL', ARGV[3] .. value)
	end
end

local values = {}
for i = 5, #ARGV, 2 do
	redis.call('HSET', ARGV[3] .. ARGV[i + 1], 'authorization_id', ARGV[4], 'token_type', ARGV[i])
	table.insert(values, ARGV[i + 1])
end

local version = expected + 1
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', version, 'tokens', table.concat(values, '\n'))
return version
`

// luaDeleteAuthorization removes an authorization and its token index keys.
//
// KEYS[1] = authorization key
// ARGV[1] = token key prefix
const luaDeleteAuthorization = `
local old = redis.call('HGET', KEYS[1], 'tokens')
if old then
	for value in string.gmatch(old, '[^\n]+') do
		redis.call('DEL', ARGV[1] .. value)
	end
end
return redis.call('DEL', KEYS[1])
`

// luaSaveClient writes a client and moves its client_id index entry.
//
// KEYS[1] = client key
// KEYS[2] = client_id index key
// ARGV[1] = id
// ARGV[2] = JSON record
// ARGV[3] = client_id key prefix
// ARGV[4] = client_id
const luaSaveClient = `
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= ARGV[1] then
	return redis.error_reply('DUPLICATE client_id')
end
local previous = redis.call('HGET', KEYS[1], 'client_id')
if previous and previous ~= ARGV[4] then
	redis.call('DEL', ARGV[3] .. previous)
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'client_id', ARGV[4])
redis.call('SET', KEYS[2], ARGV[1])
return 1
`
