package vault

import (
	"context"
	"log/slog"
	"strconv"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

// OnTransfer handles an inbound single-token transfer notification.
//
// It returns the amount the asset ledger should refund to sender. On error
// the whole amount is returned as unused and no state has changed.
func (v *Vault) OnTransfer(ctx context.Context, caller Caller, sender types.AccountID, amount types.U128, msg string) (types.U128, error) {
	if v.cfg.Asset.Kind() != asset.KindSingleToken || caller.Predecessor != v.cfg.Asset.Contract() {
		return amount, newError(ErrCodeUnauthorized, "only the underlying asset can be deposited").
			with("predecessor", string(caller.Predecessor))
	}

	unused, err := v.deposit(ctx, sender, amount.Uint128(), ParseDepositIntent(msg))
	if err != nil {
		return amount, err
	}
	return types.NewU128(unused), nil
}

// OnMultiTransfer handles an inbound multi-token transfer notification.
//
// A vault over a single-token asset rejects the batch by echoing amounts
// back. Otherwise the batch must hold exactly one entry for the configured
// item; the entry is processed like a single-token deposit, slippage bounds
// included.
func (v *Vault) OnMultiTransfer(ctx context.Context, caller Caller, sender, previousOwner types.AccountID, itemIDs []string, amounts []types.U128, msg string) ([]types.U128, error) {
	if v.cfg.Asset.Kind() != asset.KindMultiToken {
		return amounts, nil
	}

	if caller.Predecessor != v.cfg.Asset.Contract() {
		return amounts, newError(ErrCodeUnauthorized, "only the underlying asset can be deposited").
			with("predecessor", string(caller.Predecessor))
	}
	if len(itemIDs) != 1 || len(amounts) != 1 {
		return amounts, newError(ErrCodeUnauthorized, "only one token can be deposited at a time").
			with("items", strconv.Itoa(len(itemIDs)))
	}
	want, _ := v.cfg.Asset.ItemID()
	if itemIDs[0] != want {
		return amounts, newError(ErrCodeUnauthorized, "only the underlying token can be deposited").
			with("item_id", itemIDs[0])
	}

	slog.Debug("multi-token deposit",
		"sender", sender,
		"previous_owner", previousOwner,
		"item_id", itemIDs[0],
		"amount", amounts[0].String(),
	)

	unused, err := v.deposit(ctx, sender, amounts[0].Uint128(), ParseDepositIntent(msg))
	if err != nil {
		return amounts, err
	}
	return []types.U128{types.NewU128(unused)}, nil
}

// deposit mints shares for amount and returns the unused remainder.
// Every check runs before the first write.
func (v *Vault) deposit(ctx context.Context, sender types.AccountID, amount uint128.Uint128, intent DepositIntent) (uint128.Uint128, error) {
	supply, err := v.store.TotalSupply(ctx)
	if err != nil {
		return uint128.Zero, err
	}
	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return uint128.Zero, err
	}

	maxNewShares, err := v.sharesFor(ctx, amount, fixedpoint.Down)
	if err != nil {
		return uint128.Zero, err
	}

	if intent.MinShares != nil && maxNewShares.Cmp(intent.MinShares.Uint128()) < 0 {
		return uint128.Zero, newError(ErrCodeSlippageViolation, "deposit mints fewer shares than min_shares").
			with("shares", maxNewShares.String()).
			with("min_shares", intent.MinShares.String())
	}

	shares := maxNewShares
	if intent.MaxShares != nil && intent.MaxShares.Uint128().Cmp(shares) < 0 {
		shares = intent.MaxShares.Uint128()
	}

	// An empty vault prices 1:1, so the used amount is the share count.
	used := shares
	if !supply.IsZero() {
		used, err = v.assetsFor(ctx, shares, fixedpoint.Up)
		if err != nil {
			return uint128.Zero, err
		}
	}
	unused, err := fixedpoint.CheckedSub(amount, used)
	if err != nil {
		return uint128.Zero, overflowError("used amount exceeds deposit", err)
	}
	if used.IsZero() {
		return uint128.Zero, newError(ErrCodeZeroAmount, "no assets to deposit").
			with("amount", amount.String())
	}

	newTotal, err := fixedpoint.CheckedAdd(total, used)
	if err != nil {
		return uint128.Zero, overflowError("total assets", err)
	}
	if _, err := fixedpoint.CheckedAdd(supply, shares); err != nil {
		return uint128.Zero, overflowError("total supply", err)
	}

	receiver := sender
	if intent.Receiver != nil {
		receiver = *intent.Receiver
	}
	memo := ""
	if intent.Memo != nil {
		memo = *intent.Memo
	}

	if err := v.store.Credit(ctx, receiver, shares); err != nil {
		return uint128.Zero, err
	}
	if err := v.store.SetTotalAssets(ctx, newTotal); err != nil {
		return uint128.Zero, err
	}

	if err := v.emit(ctx, types.Event{
		Kind:   types.EventMint,
		Owner:  receiver,
		Shares: types.NewU128(shares),
		Memo:   types.MemoDeposit,
	}); err != nil {
		return uint128.Zero, err
	}
	if err := v.emit(ctx, types.Event{
		Kind:     types.EventDeposit,
		Sender:   sender,
		Owner:    receiver,
		Receiver: receiver,
		Assets:   types.NewU128(amount),
		Shares:   types.NewU128(shares),
		Memo:     memo,
	}); err != nil {
		return uint128.Zero, err
	}

	slog.Info("deposit accepted",
		"sender", sender,
		"receiver", receiver,
		"used", used.String(),
		"unused", unused.String(),
		"shares", shares.String(),
	)
	return unused, nil
}
