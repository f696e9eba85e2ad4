package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/testutil"
	"github.com/giantswarm/oauth-authz/storage"
)

const testClientID = "client-1"

// backends returns a constructor per available database. PostgreSQL runs
// only when POSTGRES_TEST_DSN is set.
func backends(t *testing.T) map[string]func(t *testing.T) *Store {
	t.Helper()
	b := map[string]func(t *testing.T) *Store{
		"sqlite": newSQLiteStore,
	}
	if os.Getenv("POSTGRES_TEST_DSN") != "" {
		b["postgres"] = newPostgresStore
	}
	return b
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "authz.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db, DialectSQLite))

	store, err := New(db, DialectSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, DialectPostgres, os.Getenv("POSTGRES_TEST_DSN"))
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db, DialectPostgres))
	_, err = db.ExecContext(ctx, `TRUNCATE oauth2_authorization_token, oauth2_authorization, oauth2_registered_client`)
	require.NoError(t, err)

	store, err := New(db, DialectPostgres)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store *Store)) {
	t.Helper()
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

// ============================================================
// AuthorizationStore Tests
// ============================================================

func TestStore_SaveAndGetAuthorization(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{
			State: "state-1", Code: "code-1", Access: "access-1", Refresh: "refresh-1", IDToken: "id-1",
		})

		require.NoError(t, store.SaveAuthorization(ctx, record))
		assert.Equal(t, int64(1), record.Version)

		got, err := store.GetAuthorization(ctx, "auth-1")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(record, got), "round trip mismatch (-want +got)")
	})
}

func TestStore_SaveAuthorization_AbsentSlotsStayNull(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "access-1"})
		require.NoError(t, store.SaveAuthorization(ctx, record))

		got, err := store.GetAuthorization(ctx, "auth-1")
		require.NoError(t, err)
		assert.Nil(t, got.State)
		assert.Nil(t, got.AuthorizationCodeValue)
		assert.Nil(t, got.AuthorizationCodeIssuedAt)
		assert.Nil(t, got.RefreshTokenValue)
		assert.Nil(t, got.OIDCIDTokenClaims)
	})
}

func TestStore_GetAuthorization_NotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		_, err := store.GetAuthorization(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
	})
}

func TestStore_SaveAuthorization_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		assert.Error(t, store.SaveAuthorization(ctx, nil))
		assert.Error(t, store.SaveAuthorization(ctx, &storage.AuthorizationRecord{}))
	})
}

func TestStore_SaveAuthorization_VersionConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		first := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "a1"})
		require.NoError(t, store.SaveAuthorization(ctx, first))

		writerA, err := store.GetAuthorization(ctx, "auth-1")
		require.NoError(t, err)
		writerB, err := store.GetAuthorization(ctx, "auth-1")
		require.NoError(t, err)

		a2 := "a2"
		writerA.AccessTokenValue = &a2
		require.NoError(t, store.SaveAuthorization(ctx, writerA))
		assert.Equal(t, int64(2), writerA.Version)

		a3 := "a3"
		writerB.AccessTokenValue = &a3
		err = store.SaveAuthorization(ctx, writerB)
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)

		got, err := store.GetAuthorization(ctx, "auth-1")
		require.NoError(t, err)
		assert.Equal(t, "a2", *got.AccessTokenValue)
	})
}

func TestStore_SaveAuthorization_StaleVersionForMissingRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "a1"})
		record.Version = 4
		err := store.SaveAuthorization(context.Background(), record)
		assert.ErrorIs(t, err, storage.ErrConcurrentModification)
	})
}

func TestStore_SaveAuthorization_DuplicateTokenValue(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		first := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "shared"})
		require.NoError(t, store.SaveAuthorization(ctx, first))

		// The same value in a different slot of a different authorization.
		second := testutil.GenerateTestAuthorizationRecord("auth-2", testClientID, testutil.TokenValues{Refresh: "shared"})
		err := store.SaveAuthorization(ctx, second)
		assert.ErrorIs(t, err, storage.ErrDuplicateTokenValue)
		assert.Equal(t, int64(0), second.Version, "failed save must not advance the version")

		// The failed save is rolled back entirely.
		_, err = store.GetAuthorization(ctx, "auth-2")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
	})
}

func TestStore_SaveAuthorization_DuplicateWithinRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{
			Access: "same", Refresh: "same",
		})
		err := store.SaveAuthorization(context.Background(), record)
		assert.ErrorIs(t, err, storage.ErrDuplicateTokenValue)
	})
}

func TestStore_FindAuthorizationByToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{
			State: "s-1", Code: "c-1", Access: "a-1", Refresh: "r-1", IDToken: "i-1",
		})
		require.NoError(t, store.SaveAuthorization(ctx, record))

		tests := []struct {
			name      string
			tokenType authorization.TokenType
			value     string
			wantFound bool
		}{
			{"state", authorization.TokenTypeState, "s-1", true},
			{"code", authorization.TokenTypeCode, "c-1", true},
			{"access token", authorization.TokenTypeAccessToken, "a-1", true},
			{"refresh token", authorization.TokenTypeRefreshToken, "r-1", true},
			{"value under wrong hint", authorization.TokenTypeRefreshToken, "a-1", false},
			{"id token is not a lookup key", authorization.TokenTypeIDToken, "i-1", false},
			{"unknown hint", authorization.TokenType("device_code"), "a-1", false},
			{"unknown value", authorization.TokenTypeAccessToken, "nope", false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.FindAuthorizationByToken(ctx, tt.tokenType, tt.value)
				if !tt.wantFound {
					assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, "auth-1", got.ID)
			})
		}
	})
}

func TestStore_FindAuthorizationByAnyToken(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveAuthorization(ctx, testutil.GenerateTestAuthorizationRecord(
			"auth-1", testClientID, testutil.TokenValues{State: "s-1", Access: "a-1", IDToken: "i-1"})))
		require.NoError(t, store.SaveAuthorization(ctx, testutil.GenerateTestAuthorizationRecord(
			"auth-2", testClientID, testutil.TokenValues{Code: "c-2", Refresh: "r-2"})))

		for value, wantID := range map[string]string{"s-1": "auth-1", "a-1": "auth-1", "c-2": "auth-2", "r-2": "auth-2"} {
			got, err := store.FindAuthorizationByAnyToken(ctx, value)
			require.NoError(t, err, value)
			assert.Equal(t, wantID, got.ID, value)
		}

		_, err := store.FindAuthorizationByAnyToken(ctx, "i-1")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
	})
}

func TestStore_SaveAuthorization_ReleasesReplacedValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "old"})
		require.NoError(t, store.SaveAuthorization(ctx, record))

		rotated := "new"
		record.AccessTokenValue = &rotated
		require.NoError(t, store.SaveAuthorization(ctx, record))

		_, err := store.FindAuthorizationByToken(ctx, authorization.TokenTypeAccessToken, "old")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)

		got, err := store.FindAuthorizationByToken(ctx, authorization.TokenTypeAccessToken, "new")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)

		// The released value is free for another authorization.
		other := testutil.GenerateTestAuthorizationRecord("auth-2", testClientID, testutil.TokenValues{Access: "old"})
		assert.NoError(t, store.SaveAuthorization(ctx, other))
	})
}

func TestStore_DeleteAuthorization(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		record := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "a-1"})
		require.NoError(t, store.SaveAuthorization(ctx, record))

		require.NoError(t, store.DeleteAuthorization(ctx, "auth-1"))
		require.NoError(t, store.DeleteAuthorization(ctx, "auth-1"), "delete must be idempotent")

		_, err := store.GetAuthorization(ctx, "auth-1")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
		_, err = store.FindAuthorizationByAnyToken(ctx, "a-1")
		assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)

		reuse := testutil.GenerateTestAuthorizationRecord("auth-2", testClientID, testutil.TokenValues{Access: "a-1"})
		assert.NoError(t, store.SaveAuthorization(ctx, reuse))
	})
}

func TestStore_SaveAuthorization_ConcurrentWriters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		base := testutil.GenerateTestAuthorizationRecord("auth-1", testClientID, testutil.TokenValues{Access: "a-0"})
		require.NoError(t, store.SaveAuthorization(ctx, base))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			conflicts atomic.Int32
		)
		values := []string{"a-1", "a-2", "a-3", "a-4", "a-5"}
		for _, v := range values {
			record := base.Clone()
			record.AccessTokenValue = &v
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.SaveAuthorization(ctx, record)
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, storage.ErrConcurrentModification):
					conflicts.Add(1)
				default:
					assert.Fail(t, "unexpected error", "%v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(len(values)-1), conflicts.Load())
	})
}

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_Clients(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		client := testutil.GenerateTestClientRecord("id-1", "client-1")

		require.NoError(t, store.SaveClient(ctx, client))

		got, err := store.GetClient(ctx, "id-1")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(client, got), "client mismatch (-want +got)")

		byClientID, err := store.GetClientByClientID(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "id-1", byClientID.ID)

		client.ClientName = "Renamed"
		client.ClientSecret = nil
		require.NoError(t, store.SaveClient(ctx, client))
		got, err = store.GetClient(ctx, "id-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.ClientName)
		assert.Nil(t, got.ClientSecret)

		_, err = store.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
		_, err = store.GetClientByClientID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
	})
}

func TestStore_SaveClient_DuplicateClientID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveClient(ctx, testutil.GenerateTestClientRecord("id-1", "client-1")))

		err := store.SaveClient(ctx, testutil.GenerateTestClientRecord("id-2", "client-1"))
		assert.ErrorIs(t, err, storage.ErrDuplicateClientID)
	})
}

func TestStore_SaveClient_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store *Store) {
		ctx := context.Background()
		assert.Error(t, store.SaveClient(ctx, nil))
		assert.Error(t, store.SaveClient(ctx, &storage.ClientRecord{ID: "id-1"}))
	})
}

// ============================================================
// Store plumbing
// ============================================================

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "authz.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Migrate(ctx, db, DialectSQLite))
	require.NoError(t, Migrate(ctx, db, DialectSQLite))

	version, err := MigrationVersion(ctx, db, DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", DialectSQLite, false},
		{"SQLite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{" postgresql ", DialectPostgres, false},
		{"mysql", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDialect(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedDialect)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_Rebind(t *testing.T) {
	query := `SELECT a FROM t WHERE b = ? AND c IN (?, ?)`

	sqlite := &Store{dialect: DialectSQLite}
	assert.Equal(t, query, sqlite.rebind(query))

	postgres := &Store{dialect: DialectPostgres}
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c IN ($2, $3)`, postgres.rebind(query))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DialectSQLite)
	assert.Error(t, err)

	store := newSQLiteStore(t)
	_, err = New(store.db, Dialect("oracle"))
	assert.ErrorIs(t, err, ErrUnsupportedDialect)

	_, err = Open(context.Background(), Dialect("oracle"), "")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestStore_WithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := newSQLiteStore(t)
	store.SetInstrumentation(inst)
	store.SetLogger(nil)

	ctx := context.Background()
	require.NoError(t, store.SaveAuthorization(ctx, testutil.GenerateTestAuthorizationRecord(
		"auth-1", testClientID, testutil.TokenValues{Access: "a-1"})))
	_, err = store.FindAuthorizationByToken(ctx, authorization.TokenTypeAccessToken, "missing")
	assert.ErrorIs(t, err, storage.ErrAuthorizationNotFound)
	assert.Equal(t, DialectSQLite, store.Dialect())
}
