// Package testdb opens a migrated PostgreSQL database for integration tests.
// Without a configured URL the tests skip locally and fail in CI.
package testdb
