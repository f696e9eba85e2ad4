package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/storage"
)

// ============================================================
// OneTimeTokenStore Implementation
// ============================================================

// Generate issues a new one-time token for username. The key is created with
// SET NX so an outstanding value is never overwritten.
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

	for range maxGenerateAttempts {
		token = &storage.OneTimeToken{
			Value:     oauth2.GenerateVerifier(),
			Username:  username,
			ExpiresAt: s.now().Add(s.ottTTL),
		}
		data, err := json.Marshal(token)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal one-time token: %w", err)
		}

		err = s.client.Do(ctx,
			s.client.B().Set().Key(s.oneTimeTokenKey(token.Value)).Value(string(data)).
				Nx().PxMilliseconds(s.ottTTL.Milliseconds()).Build(),
		).Error()
		if err == nil {
			return token, nil
		}
		if !isNilError(err) {
			return nil, fmt.Errorf("failed to store one-time token: %w", err)
		}
		// NX refused: the value is outstanding, try another.
	}
	return nil, fmt.Errorf("failed to generate a unique one-time token after %d attempts", maxGenerateAttempts)
}

// Consume atomically removes and returns a one-time token with GETDEL.
func (s *Store) Consume(ctx context.Context, value string) (token *storage.OneTimeToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_one_time_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_one_time_token", err, startTime)
	}()

	if value == "" || len(value) > MaxTokenLength {
		return nil, storage.ErrOneTimeTokenNotFound
	}

	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.oneTimeTokenKey(value)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrOneTimeTokenNotFound
		}
		return nil, fmt.Errorf("failed to consume one-time token: %w", err)
	}

	token = &storage.OneTimeToken{}
	if err := json.Unmarshal([]byte(data), token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal one-time token: %w", err)
	}

	// The key TTL normally removes expired tokens; the check covers clock
	// skew between replicas and the server.
	if token.IsExpired(s.now()) {
		s.logger.Debug("Discarded expired one-time token",
			"token_prefix", util.SafeTruncate(value, tokenIDLogLength))
		return nil, storage.ErrOneTimeTokenNotFound
	}
	return token, nil
}
