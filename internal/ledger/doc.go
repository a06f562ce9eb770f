// Package ledger provides the vault's collaborators outside durable storage:
// an in-memory vault.Storage, a simulated asset ledger for local runs and
// scenarios, and an HTTP client for a remote asset ledger.
package ledger
