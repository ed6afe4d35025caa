// Package storage persists users, their delegated sessions, channel rotation
// records and the audit log.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite (pure Go), single connection
//   - "postgres": jackc/pgx/v5 connection pool
package storage
