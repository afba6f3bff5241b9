// Package storage persists the last integration result of every project.
//
// Drivers:
//   - "file": snapshot + JSON Lines journal, plus an append-only history
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": one hash per project
//   - "" / "none" / "memory": kept in process, lost on restart
package storage
