// Package storage keeps the chats subscribed to scheduled digests.
//
// Drivers:
//   - "memory": process-local, lost on restart (default)
//   - "file":   append-only JSON Lines journal, replayed on open
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
