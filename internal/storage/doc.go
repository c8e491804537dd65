// Package storage persists task run history and forwarded alerts.
//
// Two drivers are available:
//   - "sqlite": a SQLite database file (modernc.org/sqlite, goose migrations)
//   - "file": append-only JSON Lines files, no database required
//
// History is an audit trail only. Schedules are never restored from it.
package storage
