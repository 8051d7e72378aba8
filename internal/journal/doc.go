// Package journal provides the SQLite-backed ledger of device memory
// mutations.
//
// Every insert, delete and defragmentation rewrite the allocator performs is
// appended here, keyed by an idempotency token, once the device transfers
// have landed. Replaying the ledger reconstructs the memory directory of a
// device fleet after a crash or restart.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Ordering is the autoincrement id; re-recording an op under a known token
// is a silent no-op, so a crashed writer can always retry its whole batch.
package journal
