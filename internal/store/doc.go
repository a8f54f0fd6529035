// Package store provides a SQLite sandbox for executing lowered queries.
//
// A Store holds one table per entity of a linked model, named after the
// entity with dots replaced by underscores (bookshop.Books becomes
// bookshop_Books). Views become SQLite views over their source entity.
//
// The sandbox keeps an append-only query log:
//   - Every recorded query is keyed by the content hash of the lowered
//     query, so recording the same query twice is a no-op
//   - Ordering uses seq INTEGER, never timestamps
//   - Replay re-runs logged SQL and reports row counts that changed
//
// # Connections
//
// A Store uses a single pooled connection. For ":memory:" that connection
// is the database; for files it keeps statements of one run in order.
// PRAGMA user_version records the query log layout.
package store
