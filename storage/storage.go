package storage

import (
	"context"
	"slices"
	"time"

	"github.com/giantswarm/oauth-authz/authorization"
)

// DefaultOneTimeTokenTTL is how long a one-time token stays consumable.
const DefaultOneTimeTokenTTL = 5 * time.Minute

// AuthorizationStore persists authorization records.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationStore interface {
	// SaveAuthorization inserts or updates a record atomically: every slot is
	// written or none is. record.Version must equal the stored version (0 for
	// a new record); on success it is advanced to the new stored version.
	// A stale version yields ErrConcurrentModification and a token value held
	// by another slot yields ErrDuplicateTokenValue.
	SaveAuthorization(ctx context.Context, record *AuthorizationRecord) error

	// DeleteAuthorization removes a record. Deleting an unknown id is not an error.
	DeleteAuthorization(ctx context.Context, id string) error

	// GetAuthorization returns the record with the given id or ErrAuthorizationNotFound.
	GetAuthorization(ctx context.Context, id string) (*AuthorizationRecord, error)

	// FindAuthorizationByToken returns the record whose tokenType column holds
	// value. Only state, code, access_token and refresh_token are lookup keys;
	// any other type yields ErrAuthorizationNotFound.
	FindAuthorizationByToken(ctx context.Context, tokenType authorization.TokenType, value string) (*AuthorizationRecord, error)

	// FindAuthorizationByAnyToken searches the state, code, access_token and
	// refresh_token columns for value.
	FindAuthorizationByAnyToken(ctx context.Context, value string) (*AuthorizationRecord, error)
}

// ClientReader resolves registered clients by their internal id.
type ClientReader interface {
	// GetClient returns the client with the given id or ErrClientNotFound.
	GetClient(ctx context.Context, id string) (*ClientRecord, error)
}

// ClientStore persists registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	ClientReader

	// SaveClient inserts or replaces a client. A client_id registered under a
	// different id yields ErrDuplicateClientID.
	SaveClient(ctx context.Context, client *ClientRecord) error

	// GetClientByClientID returns the client with the given client_id or ErrClientNotFound.
	GetClientByClientID(ctx context.Context, clientID string) (*ClientRecord, error)
}

// OneTimeTokenStore issues and consumes single-use tokens.
type OneTimeTokenStore interface {
	// Generate issues a fresh token for username, valid for the store's TTL.
	// An outstanding value is never reused.
	Generate(ctx context.Context, username string) (*OneTimeToken, error)

	// Consume atomically removes and returns the token. Unknown, expired and
	// already consumed tokens yield ErrOneTimeTokenNotFound; of two concurrent
	// consumers of the same value at most one succeeds.
	Consume(ctx context.Context, value string) (*OneTimeToken, error)
}

// LookupTokenTypes are the token types usable as FindAuthorizationByToken keys,
// in the order FindAuthorizationByAnyToken considers them.
var LookupTokenTypes = []authorization.TokenType{
	authorization.TokenTypeState,
	authorization.TokenTypeCode,
	authorization.TokenTypeAccessToken,
	authorization.TokenTypeRefreshToken,
}

// IsLookupTokenType reports whether t is one of LookupTokenTypes.
func IsLookupTokenType(t authorization.TokenType) bool {
	return slices.Contains(LookupTokenTypes, t)
}
