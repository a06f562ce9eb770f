package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/ledger"
	"github.com/roach88/sharevault/internal/rpc"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// The default config's vault and asset.
const (
	testVaultID  types.AccountID = "vault.local"
	testContract types.AccountID = "token.local"
)

var testAsset = asset.SingleToken(testContract)

// testSecret signs caller tokens in serve tests.
const testSecret = "cli-test-secret-0123456789abcdef"

// issueToken signs a caller token for the default vault.
func issueToken(t *testing.T, predecessor, attached string) string {
	t.Helper()
	caller := vault.Caller{Predecessor: types.AccountID(predecessor)}
	if attached != "" {
		v, err := types.ParseU128(attached)
		require.NoError(t, err)
		caller.Attached = v
	}
	token, err := rpc.NewTokenIssuer([]byte(testSecret), testVaultID, time.Minute).Issue(caller)
	require.NoError(t, err)
	return token
}

func u(n uint64) types.U128 { return types.U128From64(n) }

// runCLI executes the root command and returns its output and exit code.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

// initDB creates an initialized database for the default config.
func initDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.db")
	_, stderr, code := runCLI(t, "init", "--db", path)
	require.Equal(t, ExitSuccess, code, stderr)
	return path
}

// withStore opens path for direct setup and closes it afterwards.
func withStore(t *testing.T, path string, fn func(st *store.Store)) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Init(context.Background(), testVaultID, testAsset))
	fn(st)
}

// deposit runs a deposit of amount from sender through a host over path.
func deposit(t *testing.T, path string, sender types.AccountID, amount uint64) {
	t.Helper()
	withStore(t, path, func(st *store.Store) {
		sim := ledger.NewSimulated()
		sim.Register(testVaultID)
		cfg := vault.Config{ID: testVaultID, Asset: testAsset, Budget: asset.DefaultBudget()}
		h, err := host.New(st, cfg, sim)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- h.Run(ctx) }()

		unused, err := h.OnTransfer(ctx, vault.Caller{Predecessor: testContract}, sender, u(amount), "")
		require.NoError(t, err)
		require.True(t, unused.IsZero())

		h.Stop()
		require.NoError(t, <-done)
	})
}

// strandWithdrawal records a committed withdrawal the way a run that
// crashed between commit and payout leaves it: shares burned, assets out
// of the pool, no resolution.
func strandWithdrawal(t *testing.T, path, sagaID string, owner, receiver types.AccountID, amount uint64) {
	t.Helper()
	withStore(t, path, func(st *store.Store) {
		ctx := context.Background()
		call, err := asset.BuildTransfer(testAsset, receiver, u(amount), asset.DefaultTransferGas)
		require.NoError(t, err)
		call.Reference = sagaID

		tx, err := st.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		total, err := tx.TotalAssets(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Debit(ctx, owner, u(amount).Uint128()))
		require.NoError(t, tx.SetTotalAssets(ctx, total.Sub64(amount)))
		require.NoError(t, tx.RecordWithdrawal(ctx, &vault.Pending{
			Context: vault.WithdrawalContext{
				SagaID:   sagaID,
				Owner:    owner,
				Receiver: receiver,
				Shares:   u(amount),
				Assets:   u(amount),
			},
			Transfer:   call,
			ResolveGas: asset.DefaultResolveGas,
		}))
		require.NoError(t, tx.Commit())
	})
}
