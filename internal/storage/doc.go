// Package storage is the durable Item Store.
//
// Items are never physically removed; deletion is a state flag so the table doubles
// as an audit trail. Drivers:
//   - "sqlite" (default): single-file database, pure-Go driver
//   - "postgres": pgx pool, schema managed by golang-migrate
//   - "memory": process-local, for tests and dry runs
//
// All drivers enforce the same contract (see the shared store tests): state moves
// Queued -> Published or Queued -> Deleted only, scheduled_at is write-once, and two
// queued items never share a scheduled_at instant.
package storage
