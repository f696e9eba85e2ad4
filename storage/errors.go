package storage

import "errors"

var (
	// ErrAuthorizationNotFound is returned when no authorization matches an id or token value.
	ErrAuthorizationNotFound = errors.New("authorization not found")

	// ErrClientNotFound is returned when a registered client does not exist.
	// While rebuilding an authorization it is fatal: the aggregate is unusable
	// without its client.
	ErrClientNotFound = errors.New("registered client not found")

	// ErrIncompleteTokenSlot is returned for a token slot that has a value but
	// is missing its issued or expiry instant.
	ErrIncompleteTokenSlot = errors.New("token slot is partially populated")

	// ErrConcurrentModification is returned when an authorization was changed
	// by someone else since it was read. The caller may reload and retry.
	ErrConcurrentModification = errors.New("authorization was modified concurrently")

	// ErrDuplicateTokenValue is returned when a token value is already held by
	// another slot of any authorization.
	ErrDuplicateTokenValue = errors.New("token value already in use")

	// ErrDuplicateClientID is returned when a client_id is already registered
	// under a different id.
	ErrDuplicateClientID = errors.New("client_id already registered")

	// ErrOneTimeTokenNotFound is returned when a one-time token is unknown,
	// expired or already consumed.
	ErrOneTimeTokenNotFound = errors.New("one-time token not found")
)
