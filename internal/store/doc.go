// Package store provides SQLite-backed durable storage for a vault.
//
// Tables:
//   - vault_state: the single vault row (id, asset, total assets, total supply)
//   - share_balances: per-account share balances
//   - events: append-only event log, ordered by seq
//   - withdrawals: the saga log of committed withdrawals
//
// Every vault call runs inside one Tx, which implements vault.Storage. A
// failed call rolls back, so no validation failure leaves partial writes.
//
// # Saga log
//
// A committed withdrawal is inserted by the same Tx that burns its shares.
// Resolution is a conditional update from 'committed', so a continuation
// that is delivered twice applies once. Rows left in 'committed' after a
// restart are returned by PendingWithdrawals for the recovery sweep.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Amounts are stored as decimal TEXT because SQLite integers are 64-bit.
package store
