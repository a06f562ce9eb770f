package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lukechampine.com/uint128"

	"github.com/roach88/sharevault/internal/fixedpoint"
	"github.com/roach88/sharevault/internal/types"
)

// Tx is one vault call's view of the store. It implements vault.Storage;
// nothing it writes is visible until Commit.
type Tx struct {
	tx  *sql.Tx
	now func() int64
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, now: s.now}, nil
}

// Commit makes the transaction's writes durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *Tx) readState(ctx context.Context, column string) (uint128.Uint128, error) {
	var s string
	// column is one of two constants, never caller input.
	err := t.tx.QueryRowContext(ctx, "SELECT "+column+" FROM vault_state WHERE id = 1").Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return uint128.Zero, ErrNotInitialized
	}
	if err != nil {
		return uint128.Zero, fmt.Errorf("read %s: %w", column, err)
	}
	return parseAmount(column, s)
}

func (t *Tx) writeState(ctx context.Context, column string, v uint128.Uint128) error {
	if _, err := t.tx.ExecContext(ctx, "UPDATE vault_state SET "+column+" = ? WHERE id = 1", v.String()); err != nil {
		return fmt.Errorf("write %s: %w", column, err)
	}
	return nil
}

// TotalAssets returns the accounted asset balance.
func (t *Tx) TotalAssets(ctx context.Context) (uint128.Uint128, error) {
	return t.readState(ctx, "total_assets")
}

// SetTotalAssets replaces the accounted asset balance.
func (t *Tx) SetTotalAssets(ctx context.Context, v uint128.Uint128) error {
	return t.writeState(ctx, "total_assets", v)
}

// TotalSupply returns the number of shares outstanding.
func (t *Tx) TotalSupply(ctx context.Context) (uint128.Uint128, error) {
	return t.readState(ctx, "total_supply")
}

// BalanceOf returns account's share balance; 0 if it holds none.
func (t *Tx) BalanceOf(ctx context.Context, account types.AccountID) (uint128.Uint128, error) {
	var s string
	err := t.tx.QueryRowContext(ctx, `SELECT shares FROM share_balances WHERE account = ?`, string(account)).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return uint128.Zero, nil
	}
	if err != nil {
		return uint128.Zero, fmt.Errorf("read balance %s: %w", account, err)
	}
	return parseAmount("shares", s)
}

func (t *Tx) setBalance(ctx context.Context, account types.AccountID, v uint128.Uint128) error {
	var err error
	if v.IsZero() {
		_, err = t.tx.ExecContext(ctx, `DELETE FROM share_balances WHERE account = ?`, string(account))
	} else {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO share_balances (account, shares) VALUES (?, ?)
			ON CONFLICT(account) DO UPDATE SET shares = excluded.shares
		`, string(account), v.String())
	}
	if err != nil {
		return fmt.Errorf("write balance %s: %w", account, err)
	}
	return nil
}

// Credit adds amount to account and to the total supply.
func (t *Tx) Credit(ctx context.Context, account types.AccountID, amount uint128.Uint128) error {
	supply, err := t.TotalSupply(ctx)
	if err != nil {
		return err
	}
	newSupply, err := fixedpoint.CheckedAdd(supply, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	bal, err := t.BalanceOf(ctx, account)
	if err != nil {
		return err
	}
	// bal <= supply, so bal+amount <= newSupply.
	if err := t.setBalance(ctx, account, bal.Add(amount)); err != nil {
		return err
	}
	return t.writeState(ctx, "total_supply", newSupply)
}

// Debit removes amount from account and from the total supply.
func (t *Tx) Debit(ctx context.Context, account types.AccountID, amount uint128.Uint128) error {
	bal, err := t.BalanceOf(ctx, account)
	if err != nil {
		return err
	}
	newBal, err := fixedpoint.CheckedSub(bal, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	supply, err := t.TotalSupply(ctx)
	if err != nil {
		return err
	}
	newSupply, err := fixedpoint.CheckedSub(supply, amount)
	if err != nil {
		return fmt.Errorf("debit %s: supply: %w", account, err)
	}
	if err := t.setBalance(ctx, account, newBal); err != nil {
		return err
	}
	return t.writeState(ctx, "total_supply", newSupply)
}

// Emit appends e to the event log, assigning the next seq and the
// content-addressed id.
func (t *Tx) Emit(ctx context.Context, e *types.Event) error {
	var next int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events`).Scan(&next); err != nil {
		return fmt.Errorf("emit: next seq: %w", err)
	}
	e.Seq = next

	id, err := types.EventID(*e)
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	e.ID = id

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, saga_id, sender, owner, receiver, assets, shares, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Seq,
		e.ID,
		string(e.Kind),
		e.SagaID,
		string(e.Sender),
		string(e.Owner),
		string(e.Receiver),
		e.Assets.String(),
		e.Shares.String(),
		e.Memo,
	); err != nil {
		return fmt.Errorf("emit %s: %w", e.Kind, err)
	}
	return nil
}
