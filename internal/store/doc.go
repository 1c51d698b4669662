// Package store provides SQLite-backed storage for the earshot play log.
//
// The log is append-only:
//   - plays: one row per play request that reached evaluation, whether it
//     played or failed
//   - transitions: lifecycle changes of played events, including removal
//
// # Ordering
//
// All ordering uses seq, the engine's logical clock, never wall time or
// the engine's audio clock (which may wrap). Queries order by seq ASC,
// event_id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
