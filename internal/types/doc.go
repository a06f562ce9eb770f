// Package types provides the shared value types of the vault.
//
// This package contains type definitions and their encodings only. All other
// internal packages import types; types imports nothing internal.
//
// Key design constraints:
//   - Amounts are unsigned 128-bit integers and travel as decimal strings
//     on every wire format (JSON, YAML, SQLite TEXT columns)
//   - No float types anywhere
//   - Event identity is content-addressed over canonical JSON
//   - All JSON tags use snake_case
package types
