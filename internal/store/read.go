package store

import (
	"context"
	"fmt"

	"github.com/roach88/sharevault/internal/asset"
	"github.com/roach88/sharevault/internal/types"
)

// EventFilter narrows ReadEvents.
type EventFilter struct {
	// AfterSeq returns only events with seq > AfterSeq.
	AfterSeq int64

	// SagaID returns only events of one withdrawal saga.
	SagaID string

	// Limit caps the number of events; 0 means no limit.
	Limit int
}

// ReadEvents returns events ordered by seq.
// Returns an empty slice (not nil) if none match.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]types.Event, error) {
	query := `
		SELECT seq, id, kind, saga_id, sender, owner, receiver, assets, shares, memo
		FROM events
		WHERE seq > ?`
	args := []any{f.AfterSeq}
	if f.SagaID != "" {
		query += ` AND saga_id = ?`
		args = append(args, f.SagaID)
	}
	query += ` ORDER BY seq ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var (
			e                         types.Event
			kind, sender, owner, recv string
			assets, shares            string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.SagaID, &sender, &owner, &recv, &assets, &shares, &e.Memo); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = types.EventKind(kind)
		e.Sender = types.AccountID(sender)
		e.Owner = types.AccountID(owner)
		e.Receiver = types.AccountID(recv)
		if e.Assets, err = types.ParseU128(assets); err != nil {
			return nil, fmt.Errorf("scan event %d: assets: %w", e.Seq, err)
		}
		if e.Shares, err = types.ParseU128(shares); err != nil {
			return nil, fmt.Errorf("scan event %d: shares: %w", e.Seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Holder is one share balance.
type Holder struct {
	Account types.AccountID `json:"account"`
	Shares  types.U128      `json:"shares"`
}

// State is a point-in-time view of the whole vault.
type State struct {
	VaultID     types.AccountID  `json:"vault_id"`
	Asset       asset.Descriptor `json:"asset"`
	TotalAssets types.U128       `json:"total_assets"`
	TotalSupply types.U128       `json:"total_supply"`
	Holders     []Holder         `json:"holders"`
	Pending     int              `json:"pending_withdrawals"`
}

// ReadState returns the vault row, every holder ordered by account, and the
// number of unresolved withdrawals.
func (s *Store) ReadState(ctx context.Context) (State, error) {
	id, d, err := s.Identity(ctx)
	if err != nil {
		return State{}, err
	}
	st := State{VaultID: id, Asset: d, Holders: []Holder{}}

	var totalAssets, totalSupply string
	if err := s.db.QueryRowContext(ctx, `
		SELECT total_assets, total_supply FROM vault_state WHERE id = 1
	`).Scan(&totalAssets, &totalSupply); err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}
	if st.TotalAssets, err = types.ParseU128(totalAssets); err != nil {
		return State{}, fmt.Errorf("read state: total_assets: %w", err)
	}
	if st.TotalSupply, err = types.ParseU128(totalSupply); err != nil {
		return State{}, fmt.Errorf("read state: total_supply: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT account, shares FROM share_balances ORDER BY account COLLATE BINARY ASC
	`)
	if err != nil {
		return State{}, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var account, shares string
		if err := rows.Scan(&account, &shares); err != nil {
			return State{}, fmt.Errorf("scan balance: %w", err)
		}
		v, err := types.ParseU128(shares)
		if err != nil {
			return State{}, fmt.Errorf("scan balance %s: %w", account, err)
		}
		st.Holders = append(st.Holders, Holder{Account: types.AccountID(account), Shares: v})
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("iterate balances: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM withdrawals WHERE status = 'committed'
	`).Scan(&st.Pending); err != nil {
		return State{}, fmt.Errorf("count pending: %w", err)
	}
	return st, nil
}
