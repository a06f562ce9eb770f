package vault

import (
	"context"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/fixedpoint"
)

// sharesFor converts assets to shares at the current ratio:
//
//	shares = assets * totalSupply / (totalAssets + 1)
//
// An empty vault (totalSupply == 0) converts 1:1, so the first depositor
// receives exactly what they put in.
func (v *Vault) sharesFor(ctx context.Context, assets uint128.Uint128, rounding fixedpoint.Rounding) (uint128.Uint128, error) {
	supply, err := v.store.TotalSupply(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	if supply.IsZero() {
		return assets, nil
	}

	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	denominator, err := fixedpoint.CheckedAdd(total, uint128.From64(1))
	if err != nil {
		return uint128.Zero, overflowError("virtual asset offset", err)
	}

	shares, err := fixedpoint.MulDiv(assets, supply, denominator, rounding)
	if err != nil {
		return uint128.Zero, overflowError("convert to shares", err)
	}
	return shares, nil
}

// assetsFor converts shares to assets at the current ratio:
//
//	assets = shares * (totalAssets + 1) / totalSupply
//
// With no shares outstanding the result is 0.
func (v *Vault) assetsFor(ctx context.Context, shares uint128.Uint128, rounding fixedpoint.Rounding) (uint128.Uint128, error) {
	supply, err := v.store.TotalSupply(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	if supply.IsZero() {
		return uint128.Zero, nil
	}

	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	numerator, err := fixedpoint.CheckedAdd(total, uint128.From64(1))
	if err != nil {
		return uint128.Zero, overflowError("virtual asset offset", err)
	}

	assets, err := fixedpoint.MulDiv(shares, numerator, supply, rounding)
	if err != nil {
		return uint128.Zero, overflowError("convert to assets", err)
	}
	return assets, nil
}

// redeemableAssets returns what burning shares pays out: assetsFor rounded
// down and capped at totalAssets. The cap matters when an owner redeems the
// whole supply and the virtual offset would otherwise promise one unit more
// than the vault holds.
func (v *Vault) redeemableAssets(ctx context.Context, shares uint128.Uint128) (uint128.Uint128, error) {
	assets, err := v.assetsFor(ctx, shares, fixedpoint.Down)
	if err != nil {
		return uint128.Zero, err
	}
	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	if assets.Cmp(total) > 0 {
		return total, nil
	}
	return assets, nil
}
