package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/oauth-authz"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/storage/memory"
	"github.com/giantswarm/oauth-authz/storage/sqlstore"
	"github.com/giantswarm/oauth-authz/storage/valkey"
)

// Storage backends selectable with --storage.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageValkey   = "valkey"
)

// backend bundles the opened stores with their lifecycle hooks.
type backend struct {
	stores          oauth.Stores
	codec           *codec.Codec
	setInstrumented []func(*instrumentation.Instrumentation)
	closers         []func()
}

func (b *backend) SetInstrumentation(inst *instrumentation.Instrumentation) {
	for _, set := range b.setInstrumented {
		set(inst)
	}
}

// Close releases the stores in reverse order of opening.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// addStorageFlags registers the flags read by openBackend.
func addStorageFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("storage", StorageMemory, "Storage backend (memory, sqlite, postgres, valkey)")
	flags.String("database-dsn", "", "SQLite file path or PostgreSQL connection string")
	flags.Bool("auto-migrate", true, "Apply pending SQL migrations on start")
	flags.String("valkey-address", "localhost:6379", "Valkey server address")
	flags.String("valkey-password", "", "Valkey password")
	flags.Int("valkey-db", 0, "Valkey database number")
	flags.String("valkey-key-prefix", "authz:", "Prefix for every Valkey key")
	flags.String("encryption-key", "", "Base64 encoded 32 byte key sealing stored attributes and metadata")
}

// openBackend opens the storage backend selected by --storage. SQL backends
// keep one-time tokens in memory.
func openBackend(ctx context.Context, v *viper.Viper, logger *slog.Logger) (*backend, error) {
	c, err := newCodec(v.GetString("encryption-key"))
	if err != nil {
		return nil, err
	}
	b := &backend{codec: c}

	switch kind := v.GetString("storage"); kind {
	case StorageMemory:
		store := memory.New()
		store.SetLogger(logger)
		b.stores = oauth.Stores{Authorizations: store, Clients: store, OneTimeTokens: store}
		b.setInstrumented = append(b.setInstrumented, store.SetInstrumentation)
		b.closers = append(b.closers, store.Stop)

	case StorageSQLite, StoragePostgres:
		store, err := openSQLStore(ctx, kind, v.GetString("database-dsn"), v.GetBool("auto-migrate"))
		if err != nil {
			return nil, err
		}
		store.SetLogger(logger)
		b.closers = append(b.closers, func() { _ = store.Close() })

		ott := memory.New()
		ott.SetLogger(logger)
		b.closers = append(b.closers, ott.Stop)

		b.stores = oauth.Stores{Authorizations: store, Clients: store, OneTimeTokens: ott}
		b.setInstrumented = append(b.setInstrumented, store.SetInstrumentation)

	case StorageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   v.GetString("valkey-address"),
			Password:  v.GetString("valkey-password"),
			DB:        v.GetInt("valkey-db"),
			KeyPrefix: v.GetString("valkey-key-prefix"),
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to valkey: %w", err)
		}
		b.stores = oauth.Stores{Authorizations: store, Clients: store, OneTimeTokens: store}
		b.setInstrumented = append(b.setInstrumented, store.SetInstrumentation)
		b.closers = append(b.closers, store.Close)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}

	logger.Info("Storage backend opened", "storage", v.GetString("storage"), "sealed", c != nil)
	return b, nil
}

func openSQLStore(ctx context.Context, kind, dsn string, migrate bool) (*sqlstore.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--database-dsn is required for the %s backend", kind)
	}
	dialect, err := sqlstore.ParseDialect(kind)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := sqlstore.Migrate(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	store, err := sqlstore.New(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// newCodec returns a sealing codec for a non-empty key and nil otherwise.
func newCodec(encodedKey string) (*codec.Codec, error) {
	if encodedKey == "" {
		return nil, nil
	}
	enc, err := security.NewEncryptorFromBase64(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return codec.New(enc), nil
}
