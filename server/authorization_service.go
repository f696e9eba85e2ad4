package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/storage"
)

// ErrInvalidArgument is returned for blank ids, token values and nil
// aggregates. The store is never queried in that case.
var ErrInvalidArgument = errors.New("invalid argument")

// tokenLogLength is the number of token characters included in log lines.
const tokenLogLength = 8

// AuthorizationService saves, removes and looks up authorizations. It maps
// between the aggregate and its record and hides the store's not-found
// sentinel: lookups that match nothing return (nil, nil).
type AuthorizationService struct {
	serviceTelemetry

	store   storage.AuthorizationStore
	mapper  *storage.AuthorizationMapper
	auditor *security.Auditor
	logger  *slog.Logger
}

// NewAuthorizationService returns a service backed by store. Referenced
// clients are resolved through clients; c encodes the map columns and may be nil.
func NewAuthorizationService(store storage.AuthorizationStore, clients storage.ClientReader, c *codec.Codec, logger *slog.Logger) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationService{
		store:  store,
		mapper: storage.NewAuthorizationMapper(clients, c),
		logger: logger,
	}
}

// SetInstrumentation enables spans and operation metrics.
func (s *AuthorizationService) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.setInstrumentation(inst)
}

// SetAuditor sets the auditor that receives concurrent modification events.
func (s *AuthorizationService) SetAuditor(a *security.Auditor) {
	s.auditor = a
}

// Save persists a. A new aggregate has Version 0. On success a.Version holds
// the stored version; a stale version yields storage.ErrConcurrentModification
// and a token value held elsewhere yields storage.ErrDuplicateTokenValue.
func (s *AuthorizationService) Save(ctx context.Context, a *authorization.Authorization) (err error) {
	ctx, span := s.startSpan(ctx, "save_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() { s.finishAuthorizationOperation(ctx, span, "save", true, err, startTime) }()

	if a == nil || strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("save authorization: %w", ErrInvalidArgument)
	}
	instrumentation.AddAuthorizationAttributes(span, a.ID, a.RegisteredClientID, a.PrincipalName, a.GrantType.String())

	record, err := s.mapper.ToRecord(a)
	if err != nil {
		return fmt.Errorf("save authorization: %w", err)
	}

	if err := s.store.SaveAuthorization(ctx, record); err != nil {
		if errors.Is(err, storage.ErrConcurrentModification) {
			if m := s.metrics(); m != nil {
				m.RecordConcurrentModification(ctx)
			}
			s.auditor.LogConcurrentModification(ctx, a.ID, a.RegisteredClientID)
			s.logger.Warn("Authorization changed since it was read",
				"authorization_id", a.ID,
				"version", a.Version)
		}
		return fmt.Errorf("save authorization %s: %w", a.ID, err)
	}

	a.Version = record.Version
	span.SetAttributes(attribute.Int64(instrumentation.AttrVersion, a.Version))
	s.logger.Debug("Saved authorization",
		"authorization_id", a.ID,
		"client_id", a.RegisteredClientID,
		"version", a.Version)
	return nil
}

// Remove deletes a. Removing an aggregate that is not stored is a no-op.
func (s *AuthorizationService) Remove(ctx context.Context, a *authorization.Authorization) (err error) {
	ctx, span := s.startSpan(ctx, "remove_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() { s.finishAuthorizationOperation(ctx, span, "remove", true, err, startTime) }()

	if a == nil || strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("remove authorization: %w", ErrInvalidArgument)
	}
	instrumentation.AddAuthorizationAttributes(span, a.ID, a.RegisteredClientID, a.PrincipalName, a.GrantType.String())

	if err := s.store.DeleteAuthorization(ctx, a.ID); err != nil {
		return fmt.Errorf("remove authorization %s: %w", a.ID, err)
	}
	s.logger.Debug("Removed authorization", "authorization_id", a.ID)
	return nil
}

// FindByID returns the authorization with the given id, or nil if there is none.
func (s *AuthorizationService) FindByID(ctx context.Context, id string) (a *authorization.Authorization, err error) {
	ctx, span := s.startSpan(ctx, "find_authorization_by_id",
		attribute.String(instrumentation.AttrAuthorizationID, id))
	defer span.End()

	startTime := time.Now()
	defer func() { s.finishAuthorizationOperation(ctx, span, "find_by_id", a != nil, err, startTime) }()

	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("find authorization by id: %w", ErrInvalidArgument)
	}

	record, err := s.store.GetAuthorization(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find authorization %s: %w", id, err)
	}
	return s.toAggregate(ctx, record)
}

// FindByToken returns the authorization holding value. A zero hint searches
// the state, code, access_token and refresh_token slots; a lookup hint
// searches only that slot; any other hint matches nothing. ID token values
// are never lookup keys.
func (s *AuthorizationService) FindByToken(ctx context.Context, value string, hint authorization.TokenType) (a *authorization.Authorization, err error) {
	ctx, span := s.startSpan(ctx, "find_authorization_by_token",
		attribute.String(instrumentation.AttrTokenTypeHint, string(hint)))
	defer span.End()

	startTime := time.Now()
	defer func() { s.finishAuthorizationOperation(ctx, span, "find_by_token", a != nil, err, startTime) }()

	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("find authorization by token: %w", ErrInvalidArgument)
	}

	var record *storage.AuthorizationRecord
	switch {
	case hint == "":
		record, err = s.store.FindAuthorizationByAnyToken(ctx, value)
	case storage.IsLookupTokenType(hint):
		record, err = s.store.FindAuthorizationByToken(ctx, hint, value)
	default:
		s.logger.Debug("Ignoring lookup with unsupported token type hint",
			"token_type_hint", hint,
			"token_prefix", util.SafeTruncate(value, tokenLogLength))
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find authorization by token: %w", err)
	}
	return s.toAggregate(ctx, record)
}

func (s *AuthorizationService) toAggregate(ctx context.Context, record *storage.AuthorizationRecord) (*authorization.Authorization, error) {
	a, err := s.mapper.ToAggregate(ctx, record)
	if err != nil {
		s.logger.Error("Failed to rebuild authorization",
			"authorization_id", record.ID,
			"error", err)
		return nil, err
	}
	return a, nil
}
