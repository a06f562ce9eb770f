package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
	"github.com/roach88/sharevault/internal/vault"
)

// ErrSagaNotFound is returned when no withdrawal has the given saga id.
var ErrSagaNotFound = errors.New("saga not found")

// Withdrawal is one row of the saga log.
type Withdrawal struct {
	Context     vault.WithdrawalContext
	Transfer    asset.Call
	ResolveGas  asset.Gas
	Status      vault.SagaStatus
	Result      types.U128
	Error       string
	CommittedAt int64
	ResolvedAt  *int64
}

// Pending returns the in-flight form of a committed withdrawal, ready to be
// dispatched again.
func (w Withdrawal) Pending() *vault.Pending {
	return &vault.Pending{Context: w.Context, Transfer: w.Transfer, ResolveGas: w.ResolveGas}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const withdrawalColumns = `saga_id, owner, receiver, shares, assets, memo, transfer, resolve_gas,
	status, result, error, committed_at, resolved_at`

// RecordWithdrawal inserts a committed withdrawal. A saga id can be
// recorded once; a duplicate is an error.
func (t *Tx) RecordWithdrawal(ctx context.Context, p *vault.Pending) error {
	transferJSON, err := marshalCall(p.Transfer)
	if err != nil {
		return fmt.Errorf("record withdrawal: %w", err)
	}

	wc := p.Context
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO withdrawals
		(saga_id, owner, receiver, shares, assets, memo, transfer, resolve_gas, status, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		wc.SagaID,
		string(wc.Owner),
		string(wc.Receiver),
		wc.Shares.String(),
		wc.Assets.String(),
		nullString(wc.Memo),
		transferJSON,
		int64(p.ResolveGas),
		string(vault.SagaCommitted),
		t.now(),
	)
	if err != nil {
		return fmt.Errorf("record withdrawal %s: %w", wc.SagaID, err)
	}
	return nil
}

// ResolveWithdrawal moves a committed saga to status. It returns false,
// without error, if the saga was already resolved; the first resolution
// wins.
func (t *Tx) ResolveWithdrawal(ctx context.Context, sagaID string, status vault.SagaStatus, result types.U128, errMsg string) (bool, error) {
	if !vault.CanTransition(vault.SagaCommitted, status) {
		return false, fmt.Errorf("resolve withdrawal %s: illegal status %q", sagaID, status)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = ?, result = ?, error = ?, resolved_at = ?
		WHERE saga_id = ? AND status = ?
	`,
		string(status),
		result.String(),
		errMsg,
		t.now(),
		sagaID,
		string(vault.SagaCommitted),
	)
	if err != nil {
		return false, fmt.Errorf("resolve withdrawal %s: %w", sagaID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve withdrawal %s: rows affected: %w", sagaID, err)
	}
	return n == 1, nil
}

// Withdrawal reads a saga inside the transaction.
func (t *Tx) Withdrawal(ctx context.Context, sagaID string) (Withdrawal, error) {
	return readWithdrawal(ctx, t.tx, sagaID)
}

// Withdrawal reads a saga by id. Returns ErrSagaNotFound if absent.
func (s *Store) Withdrawal(ctx context.Context, sagaID string) (Withdrawal, error) {
	return readWithdrawal(ctx, s.db, sagaID)
}

// PendingWithdrawals returns every saga still in 'committed', oldest first.
// After a restart these are the withdrawals whose outcome was never
// recorded.
func (s *Store) PendingWithdrawals(ctx context.Context) ([]Withdrawal, error) {
	return s.queryWithdrawals(ctx, `WHERE status = ?`, string(vault.SagaCommitted))
}

// Withdrawals returns all sagas of owner, oldest first. An empty owner
// returns every saga.
func (s *Store) Withdrawals(ctx context.Context, owner types.AccountID) ([]Withdrawal, error) {
	if owner == "" {
		return s.queryWithdrawals(ctx, ``)
	}
	return s.queryWithdrawals(ctx, `WHERE owner = ?`, string(owner))
}

func (s *Store) queryWithdrawals(ctx context.Context, where string, args ...any) ([]Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals `+where+
		` ORDER BY committed_at ASC, saga_id COLLATE BINARY ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()

	withdrawals := []Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawals: %w", err)
	}
	return withdrawals, nil
}

func readWithdrawal(ctx context.Context, q querier, sagaID string) (Withdrawal, error) {
	row := q.QueryRowContext(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE saga_id = ?`, sagaID)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Withdrawal{}, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	return w, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(sc scanner) (Withdrawal, error) {
	var (
		w                                Withdrawal
		sagaID, owner, receiver          string
		shares, assets, transfer, result string
		status                           string
		memo                             sql.NullString
		resolveGas                       int64
		resolvedAt                       sql.NullInt64
	)
	if err := sc.Scan(&sagaID, &owner, &receiver, &shares, &assets, &memo, &transfer, &resolveGas,
		&status, &result, &w.Error, &w.CommittedAt, &resolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Withdrawal{}, err
		}
		return Withdrawal{}, fmt.Errorf("scan withdrawal: %w", err)
	}

	sharesV, err := types.ParseU128(shares)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("scan withdrawal %s: shares: %w", sagaID, err)
	}
	assetsV, err := types.ParseU128(assets)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("scan withdrawal %s: assets: %w", sagaID, err)
	}
	resultV, err := types.ParseU128(result)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("scan withdrawal %s: result: %w", sagaID, err)
	}
	call, err := unmarshalCall(transfer)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("scan withdrawal %s: %w", sagaID, err)
	}

	w.Context = vault.WithdrawalContext{
		SagaID:   sagaID,
		Owner:    types.AccountID(owner),
		Receiver: types.AccountID(receiver),
		Shares:   sharesV,
		Assets:   assetsV,
		Memo:     stringPtr(memo),
	}
	w.Transfer = call
	w.ResolveGas = asset.Gas(resolveGas)
	w.Status = vault.SagaStatus(status)
	w.Result = resultV
	if resolvedAt.Valid {
		v := resolvedAt.Int64
		w.ResolvedAt = &v
	}
	return w, nil
}
