// Package vault implements a share-based custodial vault over a single
// underlying asset.
//
// Depositors transfer the asset to the vault and receive shares. Share
// holders burn shares to withdraw a proportional amount of the asset.
// Conversions round in the vault's favor and apply a +1 virtual offset on
// the asset side of every ratio, so the first depositor cannot inflate the
// share price with a donation.
//
// A withdrawal is a two-phase saga:
//
//	Phase 1  validate entitlement; no state changes
//	Phase 2  burn shares and decrement total assets, then return a Pending
//	         outbound transfer
//	Phase 3  ResolveWithdraw finalizes on success or restores both the
//	         burned shares and the decremented assets on failure
//
// Between Phase 2 and Phase 3 other calls may run. Because the vault's
// state already reflects the withdrawal, any interleaved conversion sees
// the post-withdrawal ratio.
//
// A Vault is constructed per call over a Storage. It is not safe for
// concurrent use; the host serializes calls.
package vault
