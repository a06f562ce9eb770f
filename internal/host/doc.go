// Package host runs a vault as a long-lived service.
//
// ARCHITECTURE:
//
// Single-Writer Call Loop:
// Every vault call runs on one goroutine, one at a time, inside its own
// store transaction. No two calls ever interleave, so the vault needs no
// locking and each call is all-or-nothing: an error rolls the transaction
// back.
//
// Withdrawal Flow:
//  1. Redeem/Withdraw runs on the loop: the vault burns shares, and the
//     committed withdrawal is written to the saga log in the same transaction.
//  2. The outbound transfer runs off the loop under the transfer timeout.
//     Other calls proceed meanwhile and see the post-burn state.
//  3. The outcome is enqueued as a resolve task and runs on the loop under
//     the resolve timeout: the vault finalizes or compensates, and the saga
//     log row moves out of 'committed'.
//
// Resolution is keyed by saga id and conditional on 'committed', so a
// continuation delivered twice applies once. A withdrawal whose resolution
// never ran (crash, shutdown) stays 'committed' and is dispatched again by
// Recover, with the saga id as the remote idempotency key.
package host
