package host

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/ledger"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/testutil"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

const (
	vaultID types.AccountID = "vault.test"
	alice   types.AccountID = "alice"
	bob     types.AccountID = "bob"
)

var usdc = asset.SingleToken("usdc.test")

func u(n uint64) types.U128 { return types.U128From64(n) }

func signed(account types.AccountID) vault.Caller {
	return vault.Caller{Predecessor: account, Attached: asset.OneUnit}
}

type fixture struct {
	host   *Host
	store  *store.Store
	ledger *ledger.Simulated
	cfg    vault.Config
}

func openStore(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.WithClock(testutil.NewDeterministicClock(0).Next)
	require.NoError(t, s.Init(context.Background(), vaultID, usdc))
	return s
}

// newFixture builds a host over a fresh database and simulated ledger and
// starts its loop. The loop is stopped at cleanup.
func newFixture(t *testing.T, l AssetLedger, opts ...Option) *fixture {
	t.Helper()
	s := openStore(t, filepath.Join(t.TempDir(), "vault.db"))
	return startFixture(t, s, l, opts...)
}

func startFixture(t *testing.T, s *store.Store, l AssetLedger, opts ...Option) *fixture {
	t.Helper()
	sim, _ := l.(*ledger.Simulated)
	cfg := vault.Config{ID: vaultID, Asset: usdc, SagaIDs: testutil.NewSequentialSagaIDs("saga")}
	h, err := New(s, cfg, l, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()
	t.Cleanup(func() {
		h.Wait()
		cancel()
		<-done
	})
	return &fixture{host: h, store: s, ledger: sim, cfg: cfg}
}

// deposit moves amount from sender's simulated balance into the vault.
func (f *fixture) deposit(t *testing.T, sender types.AccountID, amount uint64, msg string) types.U128 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(usdc, sender, u(amount)))
	kept, err := f.ledger.TransferCall(ctx, usdc, sender, vaultID, u(amount),
		func(ctx context.Context, amount types.U128) (types.U128, error) {
			return f.host.OnTransfer(ctx, vault.Caller{Predecessor: usdc.Contract()}, sender, amount, msg)
		})
	require.NoError(t, err)
	return kept
}

func newSimulated() *ledger.Simulated {
	sim := ledger.NewSimulated()
	sim.Register(vaultID)
	sim.Register(alice)
	sim.Register(bob)
	return sim
}
