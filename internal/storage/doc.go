// Package storage persists queue snapshots.
//
// A snapshot is the full ordered list of pending data jobs of one queue,
// stored as a single JSON array of {payload, meta} objects and rewritten as a
// whole on every change. Drivers differ only in where that array lives:
//   - file:     <dir>/<key>.queue.json (tmp file + rename)
//   - sqlite:   queue_snapshot table (modernc.org/sqlite)
//   - redis:    one string key per queue
//   - postgres: queue_snapshot table (pgx)
package storage
