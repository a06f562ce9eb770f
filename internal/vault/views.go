package vault

import (
	"context"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

// Asset returns the underlying asset descriptor.
func (v *Vault) Asset() asset.Descriptor {
	return v.cfg.Asset
}

// TotalAssets returns the vault's accounted asset balance.
func (v *Vault) TotalAssets(ctx context.Context) (types.U128, error) {
	total, err := v.store.TotalAssets(ctx)
	return types.NewU128(total), err
}

// TotalSupply returns the number of shares outstanding.
func (v *Vault) TotalSupply(ctx context.Context) (types.U128, error) {
	supply, err := v.store.TotalSupply(ctx)
	return types.NewU128(supply), err
}

// BalanceOf returns the share balance of account.
func (v *Vault) BalanceOf(ctx context.Context, account types.AccountID) (types.U128, error) {
	bal, err := v.store.BalanceOf(ctx, account)
	return types.NewU128(bal), err
}

// ConvertToShares returns the shares minted for assets, rounded down.
func (v *Vault) ConvertToShares(ctx context.Context, assets types.U128) (types.U128, error) {
	shares, err := v.sharesFor(ctx, assets.Uint128(), fixedpoint.Down)
	return types.NewU128(shares), err
}

// ConvertToAssets returns the assets backing shares, rounded down.
func (v *Vault) ConvertToAssets(ctx context.Context, shares types.U128) (types.U128, error) {
	assets, err := v.assetsFor(ctx, shares.Uint128(), fixedpoint.Down)
	return types.NewU128(assets), err
}

// PreviewDeposit returns the shares a deposit of assets would mint.
func (v *Vault) PreviewDeposit(ctx context.Context, assets types.U128) (types.U128, error) {
	return v.ConvertToShares(ctx, assets)
}

// PreviewRedeem returns the assets redeeming shares would pay out.
func (v *Vault) PreviewRedeem(ctx context.Context, shares types.U128) (types.U128, error) {
	assets, err := v.redeemableAssets(ctx, shares.Uint128())
	return types.NewU128(assets), err
}

// PreviewWithdraw returns the shares a withdrawal of assets would burn,
// rounded up.
func (v *Vault) PreviewWithdraw(ctx context.Context, assets types.U128) (types.U128, error) {
	shares, err := v.sharesFor(ctx, assets.Uint128(), fixedpoint.Up)
	return types.NewU128(shares), err
}

// MaxDeposit returns the largest deposit that cannot overflow totalAssets.
func (v *Vault) MaxDeposit(ctx context.Context) (types.U128, error) {
	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return types.U128{}, err
	}
	return types.NewU128(uint128.Max.Sub(total)), nil
}

// MaxRedeem returns the shares owner can redeem: its full balance.
func (v *Vault) MaxRedeem(ctx context.Context, owner types.AccountID) (types.U128, error) {
	return v.BalanceOf(ctx, owner)
}

// MaxWithdraw returns the assets owner can withdraw: its balance converted
// rounded down, capped at totalAssets.
func (v *Vault) MaxWithdraw(ctx context.Context, owner types.AccountID) (types.U128, error) {
	bal, err := v.store.BalanceOf(ctx, owner)
	if err != nil {
		return types.U128{}, err
	}
	assets, err := v.redeemableAssets(ctx, bal)
	return types.NewU128(assets), err
}
