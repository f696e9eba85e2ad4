package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/storage"
)

// tokenIDLogLength is the number of characters to include when logging token values
const tokenIDLogLength = 8

// authorizationColumns lists every oauth2_authorization column in scan order.
// Version is last.
var authorizationColumns = []string{
	"id", "registered_client_id", "principal_name", "authorization_grant_type",
	"authorized_scopes", "attributes", "state",
	"authorization_code_value", "authorization_code_issued_at",
	"authorization_code_expires_at", "authorization_code_metadata",
	"access_token_value", "access_token_issued_at", "access_token_expires_at",
	"access_token_metadata", "access_token_type", "access_token_scopes",
	"oidc_id_token_value", "oidc_id_token_issued_at", "oidc_id_token_expires_at",
	"oidc_id_token_metadata", "oidc_id_token_claims",
	"refresh_token_value", "refresh_token_issued_at", "refresh_token_expires_at",
	"refresh_token_metadata",
	"version",
}

// selectAuthorization is the SELECT prefix shared by every authorization read.
var selectAuthorization = "SELECT a." + strings.Join(authorizationColumns, ", a.") + " FROM oauth2_authorization a"

// lookupTokenTypesSQL is the IN list of token types FindAuthorizationByAnyToken searches.
var lookupTokenTypesSQL = func() string {
	quoted := make([]string, len(storage.LookupTokenTypes))
	for i, t := range storage.LookupTokenTypes {
		quoted[i] = "'" + string(t) + "'"
	}
	return strings.Join(quoted, ", ")
}()

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorization(row rowScanner) (*storage.AuthorizationRecord, error) {
	r := &storage.AuthorizationRecord{}
	err := row.Scan(
		&r.ID, &r.RegisteredClientID, &r.PrincipalName, &r.AuthorizationGrantType,
		&r.AuthorizedScopes, &r.Attributes, &r.State,
		&r.AuthorizationCodeValue, &r.AuthorizationCodeIssuedAt,
		&r.AuthorizationCodeExpiresAt, &r.AuthorizationCodeMetadata,
		&r.AccessTokenValue, &r.AccessTokenIssuedAt, &r.AccessTokenExpiresAt,
		&r.AccessTokenMetadata, &r.AccessTokenType, &r.AccessTokenScopes,
		&r.OIDCIDTokenValue, &r.OIDCIDTokenIssuedAt, &r.OIDCIDTokenExpiresAt,
		&r.OIDCIDTokenMetadata, &r.OIDCIDTokenClaims,
		&r.RefreshTokenValue, &r.RefreshTokenIssuedAt, &r.RefreshTokenExpiresAt,
		&r.RefreshTokenMetadata,
		&r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.AuthorizationCodeIssuedAt = utcTime(r.AuthorizationCodeIssuedAt)
	r.AuthorizationCodeExpiresAt = utcTime(r.AuthorizationCodeExpiresAt)
	r.AccessTokenIssuedAt = utcTime(r.AccessTokenIssuedAt)
	r.AccessTokenExpiresAt = utcTime(r.AccessTokenExpiresAt)
	r.OIDCIDTokenIssuedAt = utcTime(r.OIDCIDTokenIssuedAt)
	r.OIDCIDTokenExpiresAt = utcTime(r.OIDCIDTokenExpiresAt)
	r.RefreshTokenIssuedAt = utcTime(r.RefreshTokenIssuedAt)
	r.RefreshTokenExpiresAt = utcTime(r.RefreshTokenExpiresAt)
	return r, nil
}

// columnValues returns the bind values of every column except id and version,
// in authorizationColumns order.
func columnValues(r *storage.AuthorizationRecord) []any {
	return []any{
		r.RegisteredClientID, r.PrincipalName, r.AuthorizationGrantType,
		r.AuthorizedScopes, r.Attributes, nullString(r.State),
		nullString(r.AuthorizationCodeValue), nullTime(r.AuthorizationCodeIssuedAt),
		nullTime(r.AuthorizationCodeExpiresAt), nullString(r.AuthorizationCodeMetadata),
		nullString(r.AccessTokenValue), nullTime(r.AccessTokenIssuedAt), nullTime(r.AccessTokenExpiresAt),
		nullString(r.AccessTokenMetadata), nullString(r.AccessTokenType), nullString(r.AccessTokenScopes),
		nullString(r.OIDCIDTokenValue), nullTime(r.OIDCIDTokenIssuedAt), nullTime(r.OIDCIDTokenExpiresAt),
		nullString(r.OIDCIDTokenMetadata), nullString(r.OIDCIDTokenClaims),
		nullString(r.RefreshTokenValue), nullTime(r.RefreshTokenIssuedAt), nullTime(r.RefreshTokenExpiresAt),
		nullString(r.RefreshTokenMetadata),
	}
}

// ============================================================
// AuthorizationStore Implementation
// ============================================================

// SaveAuthorization inserts or updates an authorization and its token index
// rows in one transaction.
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var stored int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM oauth2_authorization WHERE id = ?`), record.ID).Scan(&stored)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("reading authorization version: %w", err)
	}

	switch {
	case exists && stored != record.Version:
		return fmt.Errorf("%w: %s has version %d, caller has %d",
			storage.ErrConcurrentModification, record.ID, stored, record.Version)
	case !exists && record.Version != 0:
		return fmt.Errorf("%w: %s no longer exists", storage.ErrConcurrentModification, record.ID)
	}

	newVersion := record.Version + 1
	if exists {
		if err := s.updateAuthorization(ctx, tx, record, newVersion); err != nil {
			return err
		}
	} else if err := s.insertAuthorization(ctx, tx, record, newVersion); err != nil {
		return err
	}

	if err := s.replaceTokenIndex(ctx, tx, record.ID, values); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	record.Version = newVersion

	s.logger.Debug("Saved authorization",
		"authorization_id", record.ID,
		"client_id", record.RegisteredClientID,
		"version", newVersion)
	return nil
}

func (s *Store) insertAuthorization(ctx context.Context, tx *sql.Tx, r *storage.AuthorizationRecord, version int64) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(authorizationColumns)), ", ")
	query := "INSERT INTO oauth2_authorization (" + strings.Join(authorizationColumns, ", ") + ") VALUES (" + placeholders + ")"

	args := make([]any, 0, len(authorizationColumns))
	args = append(args, r.ID)
	args = append(args, columnValues(r)...)
	args = append(args, version)

	if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
		if isUniqueViolation(err) {
			// Another writer inserted the same id since our version read.
			return fmt.Errorf("%w: %s was created concurrently", storage.ErrConcurrentModification, r.ID)
		}
		return fmt.Errorf("inserting authorization: %w", err)
	}
	return nil
}

func (s *Store) updateAuthorization(ctx context.Context, tx *sql.Tx, r *storage.AuthorizationRecord, version int64) error {
	columns := authorizationColumns[1 : len(authorizationColumns)-1]
	assignments := make([]string, len(columns))
	for i, c := range columns {
		assignments[i] = c + " = ?"
	}
	query := "UPDATE oauth2_authorization SET " + strings.Join(assignments, ", ") +
		", version = ? WHERE id = ? AND version = ?"

	args := columnValues(r)
	args = append(args, version, r.ID, r.Version)

	res, err := tx.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("updating authorization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating authorization: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s changed during save", storage.ErrConcurrentModification, r.ID)
	}
	return nil
}

func (s *Store) replaceTokenIndex(ctx context.Context, tx *sql.Tx, id string, values map[authorization.TokenType]string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM oauth2_authorization_token WHERE authorization_id = ?`), id); err != nil {
		return fmt.Errorf("clearing token index: %w", err)
	}

	insert := s.rebind(`INSERT INTO oauth2_authorization_token (token_value, authorization_id, token_type) VALUES (?, ?, ?)`)
	for tokenType, v := range values {
		if _, err := tx.ExecContext(ctx, insert, v, id, string(tokenType)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s value of authorization %s", storage.ErrDuplicateTokenValue, tokenType, id)
			}
			return fmt.Errorf("indexing %s: %w", tokenType, err)
		}
	}
	return nil
}

// DeleteAuthorization removes an authorization and its token index rows.
func (s *Store) DeleteAuthorization(ctx context.Context, id string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_authorization", err, startTime)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM oauth2_authorization_token WHERE authorization_id = ?`), id); err != nil {
		return fmt.Errorf("deleting token index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM oauth2_authorization WHERE id = ?`), id); err != nil {
		return fmt.Errorf("deleting authorization: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
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

	row := s.db.QueryRowContext(ctx, s.rebind(selectAuthorization+` WHERE a.id = ?`), id)
	record, err = scanAuthorization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading authorization %s: %w", id, err)
	}
	return record, nil
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

	query := selectAuthorization +
		` JOIN oauth2_authorization_token t ON t.authorization_id = a.id WHERE t.token_value = ? AND t.token_type = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query), value, string(tokenType))
	record, err = scanAuthorization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", storage.ErrAuthorizationNotFound, tokenType, util.SafeTruncate(value, tokenIDLogLength))
	}
	if err != nil {
		return nil, fmt.Errorf("finding authorization by %s: %w", tokenType, err)
	}
	return record, nil
}

// FindAuthorizationByAnyToken retrieves the authorization holding value in any lookup slot.
func (s *Store) FindAuthorizationByAnyToken(ctx context.Context, value string) (record *storage.AuthorizationRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_authorization_by_any_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_authorization_by_any_token", err, startTime)
	}()

	query := selectAuthorization +
		` JOIN oauth2_authorization_token t ON t.authorization_id = a.id WHERE t.token_value = ? AND t.token_type IN (` +
		lookupTokenTypesSQL + `)`
	row := s.db.QueryRowContext(ctx, s.rebind(query), value)
	record, err = scanAuthorization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrAuthorizationNotFound, util.SafeTruncate(value, tokenIDLogLength))
	}
	if err != nil {
		return nil, fmt.Errorf("finding authorization by token: %w", err)
	}
	return record, nil
}
