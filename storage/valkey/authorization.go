package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/storage"
)

// ============================================================
// AuthorizationStore Implementation
// ============================================================

// SaveAuthorization inserts or updates an authorization and its token index.
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
	args := []string{
		strconv.FormatInt(record.Version, 10),
		"", // record JSON, filled below
		s.tokenKeyPrefix(),
		record.ID,
	}
	for tokenType, v := range values {
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: value repeated across slots of authorization %s", storage.ErrDuplicateTokenValue, record.ID)
		}
		seen[v] = struct{}{}
		if err := validateStringLength(v, MaxTokenLength, string(tokenType)); err != nil {
			return err
		}
		if strings.ContainsRune(v, '\n') {
			return fmt.Errorf("%s value contains a newline", tokenType)
		}
		args = append(args, string(tokenType), v)
	}

	stored := record.Clone()
	stored.Version = record.Version + 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization: %w", err)
	}
	args[1] = string(data)

	version, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveAuthorization).
			Numkeys(1).
			Key(s.authorizationKey(record.ID)).
			Arg(args...).
			Build(),
	).AsInt64()
	if err != nil {
		switch scriptError(err) {
		case scriptConflict:
			return fmt.Errorf("%w: %s: %w", storage.ErrConcurrentModification, record.ID, err)
		case scriptDuplicate:
			return fmt.Errorf("%w: authorization %s: %w", storage.ErrDuplicateTokenValue, record.ID, err)
		}
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	record.Version = version

	s.logger.Debug("Saved authorization",
		"authorization_id", record.ID,
		"client_id", record.RegisteredClientID,
		"version", version)
	return nil
}

// DeleteAuthorization removes an authorization and its token index keys.
func (s *Store) DeleteAuthorization(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_authorization", err, startTime)
	}()

	err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaDeleteAuthorization).
			Numkeys(1).
			Key(s.authorizationKey(id)).
			Arg(s.tokenKeyPrefix()).
			Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to delete authorization: %w", err)
	}

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

	return s.getAuthorization(ctx, id)
}

func (s *Store) getAuthorization(ctx context.Context, id string) (*storage.AuthorizationRecord, error) {
	data, err := s.client.Do(ctx, s.client.B().Hget().Key(s.authorizationKey(id)).Field("data").Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, id)
		}
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}

	var record storage.AuthorizationRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization %s: %w", id, err)
	}
	return &record, nil
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

	if !storage.IsLookupTokenType(tokenType) {
		return nil, fmt.Errorf("%w: %s is not a lookup key", storage.ErrAuthorizationNotFound, tokenType)
	}
	return s.findByToken(ctx, value, func(t authorization.TokenType) bool { return t == tokenType })
}

// FindAuthorizationByAnyToken retrieves the authorization holding value in any lookup slot.
func (s *Store) FindAuthorizationByAnyToken(ctx context.Context, value string) (record *storage.AuthorizationRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_authorization_by_any_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_authorization_by_any_token", err, startTime)
	}()

	return s.findByToken(ctx, value, storage.IsLookupTokenType)
}

// findByToken resolves value through the token index. The index and the
// record are read separately, so the record is re-checked to still hold
// value in the indexed slot.
func (s *Store) findByToken(ctx context.Context, value string, accept func(authorization.TokenType) bool) (*storage.AuthorizationRecord, error) {
	notFound := fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, util.SafeTruncate(value, tokenIDLogLength))
	if value == "" || len(value) > MaxTokenLength {
		return nil, notFound
	}

	entry, err := s.client.Do(ctx, s.client.B().Hgetall().Key(s.tokenKey(value)).Build()).AsStrMap()
	if err != nil {
		if isNilError(err) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to read token index: %w", err)
	}

	tokenType := authorization.TokenType(entry["token_type"])
	id := entry["authorization_id"]
	if id == "" || !accept(tokenType) {
		return nil, notFound
	}

	record, err := s.getAuthorization(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.TokenValues()[tokenType] != value {
		return nil, notFound
	}
	return record, nil
}
