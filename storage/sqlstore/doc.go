// Package sqlstore persists authorizations and registered clients in a
// relational database.
//
// SQLite (modernc.org/sqlite, pure Go) and PostgreSQL (github.com/lib/pq) are
// supported. The schema is managed with goose migrations embedded in the
// binary; call Migrate before using a Store.
//
// Saves run in a single transaction that writes the authorization row and
// rewrites its rows in oauth2_authorization_token. That table's primary key
// makes every token value unique across all authorizations, and the version
// column rejects stale writers.
//
// Usage:
//
//	db, err := sqlstore.Open(ctx, sqlstore.DialectSQLite, "/var/lib/authz/authz.db")
//	if err != nil {
//		return err
//	}
//	if err := sqlstore.Migrate(ctx, db, sqlstore.DialectSQLite); err != nil {
//		return err
//	}
//	store, err := sqlstore.New(db, sqlstore.DialectSQLite)
package sqlstore
