package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authz/storage"
)

const selectClient = `SELECT id, client_id, client_id_issued_at, client_secret, client_secret_expires_at,
	client_name, client_authentication_methods, authorization_grant_types, redirect_uris,
	post_logout_redirect_uris, scopes, client_settings, token_settings
	FROM oauth2_registered_client`

func scanClient(row rowScanner) (*storage.ClientRecord, error) {
	c := &storage.ClientRecord{}
	err := row.Scan(
		&c.ID, &c.ClientID, &c.ClientIDIssuedAt, &c.ClientSecret, &c.ClientSecretExpiresAt,
		&c.ClientName, &c.ClientAuthenticationMethods, &c.AuthorizationGrantTypes, &c.RedirectURIs,
		&c.PostLogoutRedirectURIs, &c.Scopes, &c.ClientSettings, &c.TokenSettings,
	)
	if err != nil {
		return nil, err
	}
	c.ClientIDIssuedAt = c.ClientIDIssuedAt.UTC()
	c.ClientSecretExpiresAt = utcTime(c.ClientSecretExpiresAt)
	return c, nil
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

	query := `INSERT INTO oauth2_registered_client (
		id, client_id, client_id_issued_at, client_secret, client_secret_expires_at,
		client_name, client_authentication_methods, authorization_grant_types, redirect_uris,
		post_logout_redirect_uris, scopes, client_settings, token_settings
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		client_id = excluded.client_id,
		client_id_issued_at = excluded.client_id_issued_at,
		client_secret = excluded.client_secret,
		client_secret_expires_at = excluded.client_secret_expires_at,
		client_name = excluded.client_name,
		client_authentication_methods = excluded.client_authentication_methods,
		authorization_grant_types = excluded.authorization_grant_types,
		redirect_uris = excluded.redirect_uris,
		post_logout_redirect_uris = excluded.post_logout_redirect_uris,
		scopes = excluded.scopes,
		client_settings = excluded.client_settings,
		token_settings = excluded.token_settings`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		client.ID, client.ClientID, client.ClientIDIssuedAt.UTC(),
		nullString(client.ClientSecret), nullTime(client.ClientSecretExpiresAt),
		client.ClientName, client.ClientAuthenticationMethods, client.AuthorizationGrantTypes,
		client.RedirectURIs, client.PostLogoutRedirectURIs, client.Scopes,
		client.ClientSettings, client.TokenSettings,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateClientID, client.ClientID)
		}
		return fmt.Errorf("saving client: %w", err)
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

	client, err = scanClient(s.db.QueryRowContext(ctx, s.rebind(selectClient+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading client %s: %w", id, err)
	}
	return client, nil
}

// GetClientByClientID retrieves a client by its client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (client *storage.ClientRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client_by_client_id")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client_by_client_id", err, startTime)
	}()

	client, err = scanClient(s.db.QueryRowContext(ctx, s.rebind(selectClient+` WHERE client_id = ?`), clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading client %s: %w", clientID, err)
	}
	return client, nil
}
