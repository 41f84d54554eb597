// Package ledger records seeding runs in a SQLite database.
//
// The ledger is append-only:
//   - runs: one row per run (UUIDv7 id, start/finish time, domain, status)
//   - uploads: one row per entity per phase (ok flag, HTTP status, error)
//   - reconciliations: one row per id with its reconciliation status
//
// # Database Configuration
//
//   - WAL mode: history can be read while a run writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Rows are always read back in a deterministic order (seq or id ascending).
package ledger
