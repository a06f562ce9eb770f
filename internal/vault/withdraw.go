package vault

import (
	"context"
	"log/slog"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

// Redeem burns shares of the caller and starts a transfer of the assets
// they are worth to receiver (default: the caller).
func (v *Vault) Redeem(ctx context.Context, caller Caller, shares types.U128, receiver *types.AccountID, memo *string) (*Pending, error) {
	if err := requireIntent(caller); err != nil {
		return nil, err
	}
	owner := caller.Predecessor

	maxShares, err := v.store.BalanceOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	if shares.Uint128().Cmp(maxShares) > 0 {
		return nil, newError(ErrCodeInsufficientBalance, "exceeded max redeem").
			with("shares", shares.String()).
			with("max_redeem", maxShares.String())
	}

	assets, err := v.redeemableAssets(ctx, shares.Uint128())
	if err != nil {
		return nil, err
	}
	return v.executeWithdrawal(ctx, owner, receiver, shares.Uint128(), assets, memo)
}

// Withdraw burns the shares needed to cover assets, rounded up, and starts
// a transfer of assets to receiver (default: the caller).
func (v *Vault) Withdraw(ctx context.Context, caller Caller, assets types.U128, receiver *types.AccountID, memo *string) (*Pending, error) {
	if err := requireIntent(caller); err != nil {
		return nil, err
	}
	owner := caller.Predecessor

	maxAssets, err := v.MaxWithdraw(ctx, owner)
	if err != nil {
		return nil, err
	}
	if assets.Uint128().Cmp(maxAssets.Uint128()) > 0 {
		return nil, newError(ErrCodeInsufficientBalance, "exceeded max withdraw").
			with("assets", assets.String()).
			with("max_withdraw", maxAssets.String())
	}

	shares, err := v.sharesFor(ctx, assets.Uint128(), fixedpoint.Up)
	if err != nil {
		return nil, err
	}
	return v.executeWithdrawal(ctx, owner, receiver, shares, assets.Uint128(), memo)
}

// executeWithdrawal validates the withdrawal, commits it locally and builds
// the outbound transfer. Nothing is written until every check has passed.
func (v *Vault) executeWithdrawal(ctx context.Context, owner types.AccountID, receiver *types.AccountID, shares, assets uint128.Uint128, memo *string) (*Pending, error) {
	to := owner
	if receiver != nil {
		if err := receiver.Validate(); err != nil {
			return nil, &Error{Code: ErrCodeInvalidArgument, Message: "invalid receiver", Err: err}
		}
		to = *receiver
	}

	balance, err := v.store.BalanceOf(ctx, owner)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(shares) < 0 {
		return nil, newError(ErrCodeInsufficientBalance, "insufficient shares").
			with("balance", balance.String()).
			with("shares", shares.String())
	}
	if assets.IsZero() {
		return nil, newError(ErrCodeZeroAmount, "no assets to withdraw")
	}
	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	newTotal, err := fixedpoint.CheckedSub(total, assets)
	if err != nil {
		return nil, newError(ErrCodeInsufficientBalance, "insufficient vault assets").
			with("total_assets", total.String()).
			with("assets", assets.String())
	}

	wc := WithdrawalContext{
		SagaID:   v.cfg.SagaIDs.Generate(),
		Owner:    owner,
		Receiver: to,
		Shares:   types.NewU128(shares),
		Assets:   types.NewU128(assets),
		Memo:     memo,
	}
	call, err := asset.BuildTransfer(v.cfg.Asset, to, wc.Assets, v.cfg.Budget.Transfer)
	if err != nil {
		return nil, err
	}
	call.Reference = wc.SagaID

	if err := v.store.Debit(ctx, owner, shares); err != nil {
		return nil, err
	}
	if err := v.store.SetTotalAssets(ctx, newTotal); err != nil {
		return nil, err
	}
	if err := v.emit(ctx, types.Event{
		Kind:   types.EventBurn,
		SagaID: wc.SagaID,
		Owner:  owner,
		Shares: wc.Shares,
		Memo:   types.MemoWithdraw,
	}); err != nil {
		return nil, err
	}

	slog.Info("withdrawal committed", "saga_id", wc.SagaID, "owner", owner, "receiver", to,
		"shares", wc.Shares.String(), "assets", wc.Assets.String())

	return &Pending{Context: wc, Transfer: call, ResolveGas: v.cfg.Budget.Resolve}, nil
}

// ResolveWithdraw settles a committed withdrawal once its transfer has run.
// Only the vault itself may call it.
//
// transferErr == nil finalizes the saga and returns the assets delivered.
// Otherwise the burned shares and the decremented assets are restored and
// the result is 0; the transfer failure is logged, not returned.
func (v *Vault) ResolveWithdraw(ctx context.Context, caller Caller, wc WithdrawalContext, transferErr error) (types.U128, error) {
	if caller.Predecessor != v.cfg.ID {
		return types.U128{}, newError(ErrCodeUnauthorized, "resolve_withdraw is private").
			with("predecessor", string(caller.Predecessor))
	}

	memo := ""
	if wc.Memo != nil {
		memo = *wc.Memo
	}

	if transferErr == nil {
		if err := v.emit(ctx, types.Event{
			Kind:     types.EventWithdraw,
			SagaID:   wc.SagaID,
			Sender:   wc.Owner,
			Owner:    wc.Owner,
			Receiver: wc.Receiver,
			Assets:   wc.Assets,
			Shares:   wc.Shares,
			Memo:     memo,
		}); err != nil {
			return types.U128{}, err
		}
		slog.Info("withdrawal finalized", "saga_id", wc.SagaID, "assets", wc.Assets.String())
		return wc.Assets, nil
	}

	total, err := v.store.TotalAssets(ctx)
	if err != nil {
		return types.U128{}, err
	}
	restored, err := fixedpoint.CheckedAdd(total, wc.Assets.Uint128())
	if err != nil {
		return types.U128{}, overflowError("restore total assets", err)
	}
	if err := v.store.Credit(ctx, wc.Owner, wc.Shares.Uint128()); err != nil {
		return types.U128{}, err
	}
	if err := v.store.SetTotalAssets(ctx, restored); err != nil {
		return types.U128{}, err
	}
	if err := v.emit(ctx, types.Event{
		Kind:   types.EventMint,
		SagaID: wc.SagaID,
		Owner:  wc.Owner,
		Shares: wc.Shares,
		Memo:   types.MemoRollback,
	}); err != nil {
		return types.U128{}, err
	}

	failure := &Error{Code: ErrCodeTransferFailed, Message: "outbound transfer failed", Err: transferErr}
	slog.Warn("withdrawal compensated", "saga_id", wc.SagaID, "owner", wc.Owner,
		"shares", wc.Shares.String(), "assets", wc.Assets.String(), "error", failure)
	return types.U128{}, nil
}
