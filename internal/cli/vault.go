package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/config"
	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/ledger"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// openExisting opens a database that init has already created.
func openExisting(path string) (*store.Store, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s (run init first)", path))
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openVault opens the configured database and checks that it holds the
// configured vault.
func openVault(ctx context.Context, cfg config.Config) (*store.Store, vault.Config, error) {
	vcfg, err := cfg.Vault()
	if err != nil {
		return nil, vault.Config{}, WrapExitError(ExitCommandError, "invalid vault config", err)
	}
	st, err := openExisting(cfg.Database)
	if err != nil {
		return nil, vault.Config{}, err
	}
	if err := st.Init(ctx, vcfg.ID, vcfg.Asset); err != nil {
		st.Close()
		return nil, vault.Config{}, WrapExitError(ExitCommandError, "database does not match config", err)
	}
	return st, vcfg, nil
}

// assetLedger returns the remote asset ledger client, or the in-process
// simulated ledger when no endpoint is configured. The simulated ledger is
// returned separately so callers can fund and register accounts on it.
func assetLedger(cfg config.Config, vaultID types.AccountID, accounts []string) (host.AssetLedger, *ledger.Simulated) {
	if cfg.AssetLedger.Endpoint != "" {
		return ledger.NewClient(ledger.ClientConfig{
			BaseURL: cfg.AssetLedger.Endpoint,
			Timeout: time.Duration(cfg.AssetLedger.Timeout),
		}), nil
	}

	sim := ledger.NewSimulated()
	sim.Register(vaultID)
	for _, a := range accounts {
		sim.Register(types.AccountID(a))
	}
	return sim, sim
}

// simulatedFunding mirrors accepted deposits onto the simulated ledger so
// the vault can pay out what it took in. A remote ledger moves the tokens
// itself before notifying the vault.
type simulatedFunding struct {
	host.Observer
	sim     *ledger.Simulated
	asset   asset.Descriptor
	vaultID types.AccountID
}

func (o simulatedFunding) Deposit(used, unused types.U128, code vault.ErrorCode) {
	if code == "" && !used.IsZero() {
		_ = o.sim.Mint(o.asset, o.vaultID, used)
	}
	o.Observer.Deposit(used, unused, code)
}

// seedSimulated credits the vault's simulated holding with everything it
// custodies: the pool plus the assets of withdrawals still awaiting payout.
func seedSimulated(ctx context.Context, st *store.Store, sim *ledger.Simulated, vcfg vault.Config) error {
	state, err := st.ReadState(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	pending, err := st.PendingWithdrawals(ctx)
	if err != nil {
		return fmt.Errorf("read pending withdrawals: %w", err)
	}

	custody := state.TotalAssets.Uint128()
	for _, w := range pending {
		if custody, err = fixedpoint.CheckedAdd(custody, w.Context.Assets.Uint128()); err != nil {
			return fmt.Errorf("custody: %w", err)
		}
	}
	if custody.IsZero() {
		return nil
	}
	return sim.Mint(vcfg.Asset, vcfg.ID, types.NewU128(custody))
}
