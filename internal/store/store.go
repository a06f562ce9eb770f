package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// ErrNotInitialized is returned when the database has no vault row.
var ErrNotInitialized = errors.New("vault not initialized")

// ErrVaultMismatch is returned when Init is called with a vault id or asset
// that differs from the one already stored. The asset is fixed at creation.
var ErrVaultMismatch = errors.New("vault already initialized with a different identity")

// Store provides durable storage for a vault.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db  *sql.DB
	now func() int64
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return New(db), nil
}

// New wraps an already-configured database. Open is the usual entry point;
// New exists for tests that supply a mock driver.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: unixNow}
}

// WithClock replaces the timestamp source used for saga log rows.
func (s *Store) WithClock(now func() int64) *Store {
	s.now = now
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Init records the vault's identity and asset. Calling Init again with the
// same identity is a no-op; a different identity fails with
// ErrVaultMismatch.
func (s *Store) Init(ctx context.Context, vaultID types.AccountID, d asset.Descriptor) error {
	assetJSON, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_state (id, vault_id, asset)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, string(vaultID), string(assetJSON)); err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	gotID, gotAsset, err := s.Identity(ctx)
	if err != nil {
		return err
	}
	if gotID != vaultID || gotAsset != d {
		return fmt.Errorf("%w: stored %s (%s)", ErrVaultMismatch, gotID, gotAsset)
	}
	return nil
}

// Identity returns the stored vault id and asset.
func (s *Store) Identity(ctx context.Context) (types.AccountID, asset.Descriptor, error) {
	var id, assetJSON string
	err := s.db.QueryRowContext(ctx, `SELECT vault_id, asset FROM vault_state WHERE id = 1`).
		Scan(&id, &assetJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", asset.Descriptor{}, ErrNotInitialized
	}
	if err != nil {
		return "", asset.Descriptor{}, fmt.Errorf("read identity: %w", err)
	}

	var d asset.Descriptor
	if err := d.UnmarshalJSON([]byte(assetJSON)); err != nil {
		return "", asset.Descriptor{}, fmt.Errorf("read identity: %w", err)
	}
	return types.AccountID(id), d, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
