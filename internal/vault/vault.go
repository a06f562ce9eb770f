package vault

import (
	"context"
	"fmt"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

// ShareLedger is the book of share balances.
//
// Credit must fail without effect if the total supply would overflow.
// Debit must fail without effect if the balance is insufficient.
type ShareLedger interface {
	TotalSupply(ctx context.Context) (uint128.Uint128, error)
	BalanceOf(ctx context.Context, account types.AccountID) (uint128.Uint128, error)
	Credit(ctx context.Context, account types.AccountID, amount uint128.Uint128) error
	Debit(ctx context.Context, account types.AccountID, amount uint128.Uint128) error
}

// EventSink records emitted events. Emit assigns Seq and ID.
type EventSink interface {
	Emit(ctx context.Context, e *types.Event) error
}

// Storage is the mutable state a vault call runs against.
//
// TotalAssets is the vault's accounted asset balance. It is written only by
// this package: deposits add, withdrawals subtract, compensation restores.
type Storage interface {
	ShareLedger
	EventSink
	TotalAssets(ctx context.Context) (uint128.Uint128, error)
	SetTotalAssets(ctx context.Context, v uint128.Uint128) error
}

// Config is the static configuration of a vault.
type Config struct {
	// ID is the vault's own account id. Only the vault itself may call
	// ResolveWithdraw.
	ID types.AccountID

	// Asset is the underlying asset. Fixed for the vault's lifetime.
	Asset asset.Descriptor

	// Budget bounds outbound transfers and their resolution.
	Budget asset.Budget

	// SagaIDs generates withdrawal saga ids. Defaults to UUIDv7.
	SagaIDs types.SagaIDGenerator
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return fmt.Errorf("vault id: %w", err)
	}
	if err := c.Asset.Validate(); err != nil {
		return fmt.Errorf("vault asset: %w", err)
	}
	return nil
}

// Caller describes who invoked an operation.
type Caller struct {
	// Predecessor is the immediate caller. For deposits it is the asset
	// contract that forwarded the transfer.
	Predecessor types.AccountID

	// Attached is the payment attached to the call.
	Attached types.U128
}

// Vault executes vault operations against a Storage.
type Vault struct {
	cfg   Config
	store Storage
}

// New creates a Vault over store.
func New(cfg Config, store Storage) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Budget == (asset.Budget{}) {
		cfg.Budget = asset.DefaultBudget()
	}
	if cfg.SagaIDs == nil {
		cfg.SagaIDs = types.UUIDv7Generator{}
	}
	return &Vault{cfg: cfg, store: store}, nil
}

// ID returns the vault's account id.
func (v *Vault) ID() types.AccountID {
	return v.cfg.ID
}

// requireIntent enforces the one-unit payment that proves the caller meant
// to sign a state-changing call.
func requireIntent(c Caller) error {
	if c.Attached != asset.OneUnit {
		return newError(ErrCodeUnauthorized, "requires attached deposit of exactly 1").
			with("attached", c.Attached.String())
	}
	return nil
}

func (v *Vault) emit(ctx context.Context, e types.Event) error {
	if err := v.store.Emit(ctx, &e); err != nil {
		return fmt.Errorf("emit %s: %w", e.Kind, err)
	}
	return nil
}
