// Package asset describes the vault's underlying asset and builds the
// outbound transfer calls that move it.
//
// A Descriptor is a closed tagged union over two kinds: a single-token
// ledger (one fungible balance book per contract) and a multi-token ledger
// (many fungible lines per contract, selected by item id). Code that
// branches on the kind switches on Kind() exhaustively.
package asset

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/sharevault/internal/types"
)

// Kind tags a Descriptor variant.
type Kind string

const (
	// KindSingleToken is a single-token ledger contract.
	KindSingleToken Kind = "single"
	// KindMultiToken is one item line inside a multi-token ledger contract.
	KindMultiToken Kind = "multi"
)

// Descriptor identifies the underlying asset. Fields are unexported so a
// descriptor cannot change after the vault is created.
type Descriptor struct {
	kind     Kind
	contract types.AccountID
	itemID   string
}

// SingleToken returns a descriptor for a single-token ledger.
func SingleToken(contract types.AccountID) Descriptor {
	return Descriptor{kind: KindSingleToken, contract: contract}
}

// MultiToken returns a descriptor for one item of a multi-token ledger.
func MultiToken(contract types.AccountID, itemID string) Descriptor {
	return Descriptor{kind: KindMultiToken, contract: contract, itemID: itemID}
}

// Kind returns the variant tag.
func (d Descriptor) Kind() Kind { return d.kind }

// Contract returns the asset ledger's account.
func (d Descriptor) Contract() types.AccountID { return d.contract }

// ItemID returns the item id for multi-token descriptors.
func (d Descriptor) ItemID() (string, bool) {
	return d.itemID, d.kind == KindMultiToken
}

// IsZero reports whether d is the zero descriptor.
func (d Descriptor) IsZero() bool {
	return d.kind == "" && d.contract == "" && d.itemID == ""
}

// Validate checks that the descriptor is well formed.
func (d Descriptor) Validate() error {
	if err := d.contract.Validate(); err != nil {
		return fmt.Errorf("asset contract: %w", err)
	}
	switch d.kind {
	case KindSingleToken:
		if d.itemID != "" {
			return fmt.Errorf("single-token asset must not carry an item id")
		}
	case KindMultiToken:
		if d.itemID == "" {
			return fmt.Errorf("multi-token asset requires an item id")
		}
	default:
		return fmt.Errorf("unknown asset kind %q", d.kind)
	}
	return nil
}

// String renders the descriptor, e.g. "single:usdt.near" or "multi:mt.near#eth".
func (d Descriptor) String() string {
	if d.kind == KindMultiToken {
		return fmt.Sprintf("%s:%s#%s", d.kind, d.contract, d.itemID)
	}
	return fmt.Sprintf("%s:%s", d.kind, d.contract)
}

type descriptorJSON struct {
	Kind     Kind            `json:"kind"`
	Contract types.AccountID `json:"contract"`
	ItemID   string          `json:"item_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(descriptorJSON{Kind: d.kind, Contract: d.contract, ItemID: d.itemID})
}

// UnmarshalJSON implements json.Unmarshaler and validates the result.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw descriptorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := Descriptor{kind: raw.Kind, contract: raw.Contract, itemID: raw.ItemID}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse builds a descriptor from its parts and validates it.
func Parse(kind string, contract string, itemID string) (Descriptor, error) {
	d := Descriptor{kind: Kind(kind), contract: types.AccountID(contract), itemID: itemID}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
