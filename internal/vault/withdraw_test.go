package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

var errNotRegistered = errors.New("receiver not registered")

func TestWithdraw_BurnsRoundedUp(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Withdraw(ctx, signed(alice), u(500), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, u(500), p.Context.Shares, "ceil(500*1000/1001)")
	assert.Equal(t, u(500), p.Context.Assets)

	snap := mem.Snapshot()
	assert.Equal(t, u(500), snap.TotalAssets)
	assert.Equal(t, u(500), snap.TotalSupply)

	got, err := v.ResolveWithdraw(ctx, selfCall, p.Context, nil)
	require.NoError(t, err)
	assert.Equal(t, u(500), got)
	assert.Equal(t, snap, mem.Snapshot(), "finalization does not touch balances")
}

func TestRedeem_BuildsTransfer(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t, "saga-42")
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Redeem(ctx, signed(alice), u(100), ptr(bob), ptr("rent"))
	require.NoError(t, err)

	assert.Equal(t, WithdrawalContext{
		SagaID:   "saga-42",
		Owner:    alice,
		Receiver: bob,
		Shares:   u(100),
		Assets:   u(100),
		Memo:     ptr("rent"),
	}, p.Context)
	assert.Equal(t, asset.DefaultResolveGas, p.ResolveGas)

	assert.Equal(t, tokenID, p.Transfer.Contract)
	assert.Equal(t, asset.MethodSingleTransfer, p.Transfer.Method)
	assert.Equal(t, asset.OneUnit, p.Transfer.Deposit)
	assert.Equal(t, asset.DefaultTransferGas, p.Transfer.Gas)
	assert.Equal(t, "saga-42", p.Transfer.Reference)

	args, err := asset.DecodeTransfer(p.Transfer)
	require.NoError(t, err)
	assert.Equal(t, bob, args.ReceiverID)
	assert.Equal(t, u(100), args.Amount)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventBurn, events[0].Kind)
	assert.Equal(t, "saga-42", events[0].SagaID)
	assert.Equal(t, u(100), events[0].Shares)
	assert.Equal(t, types.MemoWithdraw, events[0].Memo)
}

func TestRedeem_WholeSupplyIsCapped(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Redeem(ctx, signed(alice), u(1000), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, u(1000), p.Context.Assets, "floor(1000*1001/1000) capped at totalAssets")

	snap := mem.Snapshot()
	assert.True(t, snap.TotalAssets.IsZero())
	assert.True(t, snap.TotalSupply.IsZero())
}

func TestRedeem_ZeroShares(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	_, err := v.Redeem(ctx, signed(alice), u(0), nil, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeZeroAmount))
	assert.Empty(t, mem.Events())
}

func TestWithdraw_ZeroAssets(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	_, err := v.Withdraw(ctx, signed(alice), u(0), nil, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeZeroAmount))
}

func TestWithdrawal_BeyondMaxFailsWithoutMutation(t *testing.T) {
	ctx := context.Background()

	t.Run("redeem", func(t *testing.T) {
		v, mem := newTestVault(t)
		seed(t, mem, alice, 1000, 1000)
		before := mem.Snapshot()

		_, err := v.Redeem(ctx, signed(alice), u(1001), nil, nil)
		require.Error(t, err)
		assert.True(t, IsInsufficientBalance(err))
		assert.Equal(t, before, mem.Snapshot())
		assert.Empty(t, mem.Events())
	})

	t.Run("withdraw", func(t *testing.T) {
		v, mem := newTestVault(t)
		seed(t, mem, alice, 1000, 1000)
		before := mem.Snapshot()

		_, err := v.Withdraw(ctx, signed(alice), u(1001), nil, nil)
		require.Error(t, err)
		assert.True(t, IsInsufficientBalance(err))
		assert.Equal(t, before, mem.Snapshot())
	})

	t.Run("no shares", func(t *testing.T) {
		v, mem := newTestVault(t)
		seed(t, mem, alice, 1000, 1000)

		_, err := v.Redeem(ctx, signed(bob), u(1), nil, nil)
		require.Error(t, err)
		assert.True(t, IsInsufficientBalance(err))
	})
}

func TestWithdrawal_RequiresIntent(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)
	before := mem.Snapshot()

	_, err := v.Redeem(ctx, Caller{Predecessor: alice}, u(10), nil, nil)
	assert.True(t, IsUnauthorized(err))

	_, err = v.Withdraw(ctx, Caller{Predecessor: alice}, u(10), nil, nil)
	assert.True(t, IsUnauthorized(err))

	assert.Equal(t, before, mem.Snapshot())
}

func TestWithdrawal_InvalidReceiver(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	_, err := v.Redeem(ctx, signed(alice), u(10), ptr(types.AccountID("UPPER")), nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidArgument))
	assert.Empty(t, mem.Events())
}

func TestResolveWithdraw_CompensatesOnFailure(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)
	before := mem.Snapshot()

	p, err := v.Redeem(ctx, signed(alice), u(400), ptr(types.AccountID("nobody")), nil)
	require.NoError(t, err)

	got, err := v.ResolveWithdraw(ctx, selfCall, p.Context, errNotRegistered)
	require.NoError(t, err, "a failed transfer is not a call failure")
	assert.True(t, got.IsZero())
	assert.Equal(t, before, mem.Snapshot())

	events := mem.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventBurn, events[0].Kind)
	assert.Equal(t, types.EventMint, events[1].Kind)
	assert.Equal(t, types.MemoRollback, events[1].Memo)
	assert.Equal(t, u(400), events[1].Shares)
	assert.Equal(t, p.Context.SagaID, events[1].SagaID)
}

func TestResolveWithdraw_FinalizedEvent(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Withdraw(ctx, signed(alice), u(10), ptr(bob), ptr("memo"))
	require.NoError(t, err)
	_, err = v.ResolveWithdraw(ctx, selfCall, p.Context, nil)
	require.NoError(t, err)

	events := mem.Events()
	require.Len(t, events, 2)
	final := events[1]
	assert.Equal(t, types.EventWithdraw, final.Kind)
	assert.Equal(t, alice, final.Owner)
	assert.Equal(t, bob, final.Receiver)
	assert.Equal(t, u(10), final.Assets)
	assert.Equal(t, p.Context.Shares, final.Shares)
	assert.Equal(t, "memo", final.Memo)
}

func TestResolveWithdraw_SelfOnly(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Redeem(ctx, signed(alice), u(10), nil, nil)
	require.NoError(t, err)
	after := mem.Snapshot()

	_, err = v.ResolveWithdraw(ctx, signed(alice), p.Context, errNotRegistered)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, after, mem.Snapshot(), "an external resolve must not re-credit shares")
}

func TestWithdrawal_InterleavedCallsSeePostCommitState(t *testing.T) {
	ctx := context.Background()
	v, mem := newTestVault(t)
	seed(t, mem, alice, 1000, 1000)

	p, err := v.Redeem(ctx, signed(alice), u(600), nil, nil)
	require.NoError(t, err)

	// Second redeem before the first resolves sees only the 400 left.
	_, err = v.Redeem(ctx, signed(alice), u(500), nil, nil)
	require.Error(t, err)
	assert.True(t, IsInsufficientBalance(err))

	p2, err := v.Redeem(ctx, signed(alice), u(400), nil, nil)
	require.NoError(t, err)

	_, err = v.ResolveWithdraw(ctx, selfCall, p.Context, errNotRegistered)
	require.NoError(t, err)
	_, err = v.ResolveWithdraw(ctx, selfCall, p2.Context, nil)
	require.NoError(t, err)

	snap := mem.Snapshot()
	assert.Equal(t, u(600), snap.TotalSupply)
	assert.Equal(t, u(600), snap.TotalAssets)
}

func TestRoundTrip_NeverProfits(t *testing.T) {
	ctx := context.Background()

	pools := [][2]uint64{{0, 0}, {1000, 1000}, {1000, 999}, {5000, 1234}, {77, 1000}}
	deposits := []uint64{1000, 1, 37, 99999}

	for _, pool := range pools {
		for _, x := range deposits {
			v, mem := newTestVault(t)
			if pool[1] > 0 {
				seed(t, mem, bob, pool[0], pool[1])
			}

			unused, err := v.OnTransfer(ctx, fromToken, alice, u(x), "")
			if err != nil {
				assert.True(t, IsCode(err, ErrCodeZeroAmount), "pool=%v x=%d: %v", pool, x, err)
				continue
			}
			used := x - unused.Uint128().Lo

			minted, err := v.BalanceOf(ctx, alice)
			require.NoError(t, err)

			p, err := v.Redeem(ctx, signed(alice), minted, nil, nil)
			if err != nil {
				assert.True(t, IsCode(err, ErrCodeZeroAmount), "pool=%v x=%d: %v", pool, x, err)
				continue
			}
			back := p.Context.Assets.Uint128().Lo
			assert.LessOrEqual(t, back, used, "pool=%v x=%d", pool, x)
			assert.LessOrEqual(t, used-back, uint64(1), "pool=%v x=%d", pool, x)
		}
	}
}
