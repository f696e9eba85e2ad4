package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authz/storage"
)

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

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveClient).
			Numkeys(2).
			Key(s.clientKey(client.ID), s.clientIDKey(client.ClientID)).
			Arg(client.ID, string(data), s.clientIDKeyPrefix(), client.ClientID).
			Build(),
	).Error()
	if err != nil {
		if scriptError(err) == scriptDuplicate {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateClientID, client.ClientID)
		}
		return fmt.Errorf("failed to save client: %w", err)
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

	return s.getClient(ctx, id)
}

func (s *Store) getClient(ctx context.Context, id string) (*storage.ClientRecord, error) {
	data, err := s.client.Do(ctx, s.client.B().Hget().Key(s.clientKey(id)).Field("data").Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, id)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client storage.ClientRecord
	if err := json.Unmarshal([]byte(data), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client %s: %w", id, err)
	}
	return &client, nil
}

// GetClientByClientID retrieves a client by its client_id.
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (client *storage.ClientRecord, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client_by_client_id")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client_by_client_id", err, startTime)
	}()

	id, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIDKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to resolve client_id: %w", err)
	}
	return s.getClient(ctx, id)
}
