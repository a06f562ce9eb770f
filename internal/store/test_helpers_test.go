package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

const testVaultID types.AccountID = "vault.test"

var testAsset = asset.SingleToken("usdc.test")

// createTestStore creates a new initialized store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	s.WithClock(func() int64 { return 1700000000 })
	if err := s.Init(context.Background(), testVaultID, testAsset); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return s
}

// inTx runs fn in a transaction and commits it.
func inTx(t *testing.T, s *Store, fn func(tx *Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
