// Package logstore persists the append-only dispatch log.
//
// The dispatch core only ever reads the single most recent entry for an
// (account, destination) pair, so every backend keeps that lookup cheap.
//
// Drivers:
//   - "file": JSON Lines file with an in-memory latest-entry index
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL through a pgx connection pool
package logstore
