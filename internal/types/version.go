package types

// VaultVersion is the vault software version, reported by the CLI and the
// health endpoint.
const VaultVersion = "0.1.0"
