package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

var usdc = asset.SingleToken("usdc.test")

func TestSimulated_Transfer(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "vault", types.U128From64(1000)))
	s.Register("alice")

	call, err := asset.BuildTransfer(usdc, "alice", types.U128From64(400), asset.DefaultTransferGas)
	require.NoError(t, err)

	require.NoError(t, s.Transfer(ctx, "vault", call))
	assert.Equal(t, types.U128From64(600), s.BalanceOf(usdc, "vault"))
	assert.Equal(t, types.U128From64(400), s.BalanceOf(usdc, "alice"))
}

func TestSimulated_TransferToUnregistered(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "vault", types.U128From64(1000)))

	call, err := asset.BuildTransfer(usdc, "nobody", types.U128From64(1), asset.DefaultTransferGas)
	require.NoError(t, err)

	err = s.Transfer(ctx, "vault", call)
	require.ErrorIs(t, err, ErrNotRegistered)
	assert.True(t, asset.IsRejected(err))
	assert.Equal(t, types.U128From64(1000), s.BalanceOf(usdc, "vault"))
}

func TestSimulated_TransferInsufficientFunds(t *testing.T) {
	s := NewSimulated()
	s.Register("alice")
	call, err := asset.BuildTransfer(usdc, "alice", types.U128From64(1), asset.DefaultTransferGas)
	require.NoError(t, err)

	require.ErrorIs(t, s.Transfer(context.Background(), "vault", call), ErrInsufficientFunds)
}

func TestSimulated_TransferRequiresOneUnit(t *testing.T) {
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "vault", types.U128From64(10)))
	s.Register("alice")
	call, err := asset.BuildTransfer(usdc, "alice", types.U128From64(1), asset.DefaultTransferGas)
	require.NoError(t, err)
	call.Deposit = types.U128{}

	require.ErrorIs(t, s.Transfer(context.Background(), "vault", call), ErrMissingDeposit)
}

func TestSimulated_TransferDeduplicatesByReference(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "vault", types.U128From64(1000)))
	s.Register("alice")

	call, err := asset.BuildTransfer(usdc, "alice", types.U128From64(100), asset.DefaultTransferGas)
	require.NoError(t, err)
	call.Reference = "saga-1"

	require.NoError(t, s.Transfer(ctx, "vault", call))
	require.NoError(t, s.Transfer(ctx, "vault", call))
	assert.Equal(t, types.U128From64(100), s.BalanceOf(usdc, "alice"), "second transfer must be a no-op")
}

func TestSimulated_MultiTokenHoldingsAreSeparate(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	gold := asset.MultiToken("items.test", "gold")
	silver := asset.MultiToken("items.test", "silver")
	require.NoError(t, s.Mint(gold, "vault", types.U128From64(50)))
	require.NoError(t, s.Mint(silver, "vault", types.U128From64(50)))
	s.Register("alice")

	call, err := asset.BuildTransfer(gold, "alice", types.U128From64(20), asset.DefaultTransferGas)
	require.NoError(t, err)
	require.NoError(t, s.Transfer(ctx, "vault", call))

	assert.Equal(t, types.U128From64(30), s.BalanceOf(gold, "vault"))
	assert.Equal(t, types.U128From64(50), s.BalanceOf(silver, "vault"))
	assert.Equal(t, types.U128From64(20), s.BalanceOf(gold, "alice"))
}

func TestSimulated_TransferCallRefundsUnused(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "alice", types.U128From64(100)))
	s.Register("vault")

	kept, err := s.TransferCall(ctx, usdc, "alice", "vault", types.U128From64(100),
		func(context.Context, types.U128) (types.U128, error) {
			return types.U128From64(30), nil
		})
	require.NoError(t, err)
	assert.Equal(t, types.U128From64(70), kept)
	assert.Equal(t, types.U128From64(30), s.BalanceOf(usdc, "alice"))
	assert.Equal(t, types.U128From64(70), s.BalanceOf(usdc, "vault"))
}

func TestSimulated_TransferCallRefundsAllOnError(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	require.NoError(t, s.Mint(usdc, "alice", types.U128From64(100)))
	s.Register("vault")
	boom := errors.New("boom")

	kept, err := s.TransferCall(ctx, usdc, "alice", "vault", types.U128From64(100),
		func(context.Context, types.U128) (types.U128, error) {
			return types.U128{}, boom
		})
	require.ErrorIs(t, err, boom)
	assert.True(t, kept.IsZero())
	assert.Equal(t, types.U128From64(100), s.BalanceOf(usdc, "alice"))
	assert.True(t, s.BalanceOf(usdc, "vault").IsZero())
}
