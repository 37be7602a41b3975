// Package postgres provides PostgreSQL implementations of the store
// interfaces defined in internal/store, the connection setup and the
// embedded schema migrations.
//
// Ordered identifier lists and nested value objects (access rules, metadata,
// pause and cancellation info) are stored as JSONB columns next to the
// relational columns that queries filter on.
package postgres
