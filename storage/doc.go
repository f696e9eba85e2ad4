// Package storage defines how authorization state is persisted.
//
// It holds the column-shaped records written to a backing store, the store
// interfaces implemented by the subpackages, the sentinel errors they share and
// the mappers that turn records into the aggregates used by the rest of the
// server:
//   - AuthorizationStore: authorizations keyed by id and by every token value
//   - ClientStore: registered clients keyed by id and by client_id
//   - OneTimeTokenStore: short-lived single-use login tokens
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sql: SQLite and PostgreSQL storage with embedded migrations
//   - storage/valkey: Valkey/Redis-compatible one-time-token storage
//   - storage/mock: hand-written test doubles
package storage
