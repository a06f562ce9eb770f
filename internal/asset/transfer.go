package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/sharevault/internal/types"
)

// Gas is a compute budget unit on the host platform.
type Gas uint64

// TGas is 10^12 gas.
const TGas Gas = 1_000_000_000_000

// Default budgets for the outbound transfer and its resolution continuation.
const (
	DefaultTransferGas Gas = 30 * TGas
	DefaultResolveGas  Gas = 10 * TGas
)

// Remote method names on the asset ledgers.
const (
	MethodSingleTransfer = "ft_transfer"
	MethodMultiTransfer  = "mt_transfer"
)

// OneUnit is the minimal attached payment proving explicit caller intent.
var OneUnit = types.U128From64(1)

// Call is an outbound function call to another contract.
type Call struct {
	Contract types.AccountID `json:"contract"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
	Deposit  types.U128      `json:"deposit"`
	Gas      Gas             `json:"gas"`

	// Reference identifies the call for deduplication on the remote side.
	Reference string `json:"reference,omitempty"`
}

// RejectedError reports a call the asset ledger refused without applying
// it. Any other error from a ledger leaves the call's outcome unknown: it
// may or may not have been applied.
type RejectedError struct {
	Reason error
}

func (e *RejectedError) Error() string {
	return "rejected: " + e.Reason.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// Rejected marks err as a definitive refusal.
func Rejected(err error) error {
	if err == nil {
		return nil
	}
	return &RejectedError{Reason: err}
}

// IsRejected reports whether err is a definitive refusal.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Budget bounds the transfer call and the continuation chained after it.
type Budget struct {
	Transfer Gas
	Resolve  Gas
}

// DefaultBudget returns the standard transfer/resolve budgets.
func DefaultBudget() Budget {
	return Budget{Transfer: DefaultTransferGas, Resolve: DefaultResolveGas}
}

type singleTransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	Amount     types.U128      `json:"amount"`
}

type multiTransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	TokenID    string          `json:"token_id"`
	Amount     types.U128      `json:"amount"`
	Approval   *struct{}       `json:"approval"`
	Memo       *string         `json:"memo"`
}

// BuildTransfer returns the call that sends amount of the asset to receiver.
func BuildTransfer(d Descriptor, receiver types.AccountID, amount types.U128, gas Gas) (Call, error) {
	var (
		method string
		args   any
	)
	switch d.Kind() {
	case KindSingleToken:
		method = MethodSingleTransfer
		args = singleTransferArgs{ReceiverID: receiver, Amount: amount}
	case KindMultiToken:
		method = MethodMultiTransfer
		args = multiTransferArgs{ReceiverID: receiver, TokenID: d.itemID, Amount: amount}
	default:
		return Call{}, fmt.Errorf("build transfer: unknown asset kind %q", d.Kind())
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return Call{}, fmt.Errorf("build transfer: %w", err)
	}

	return Call{
		Contract: d.Contract(),
		Method:   method,
		Args:     raw,
		Deposit:  OneUnit,
		Gas:      gas,
	}, nil
}

// TransferArgs is the decoded form of a transfer call's arguments.
type TransferArgs struct {
	ReceiverID types.AccountID `json:"receiver_id"`
	TokenID    string          `json:"token_id,omitempty"`
	Amount     types.U128      `json:"amount"`
}

// DecodeTransfer parses the arguments of an ft_transfer or mt_transfer call.
func DecodeTransfer(c Call) (TransferArgs, error) {
	var args TransferArgs
	switch c.Method {
	case MethodSingleTransfer, MethodMultiTransfer:
	default:
		return args, fmt.Errorf("decode transfer: unexpected method %q", c.Method)
	}
	if err := json.Unmarshal(c.Args, &args); err != nil {
		return args, fmt.Errorf("decode transfer: %w", err)
	}
	if c.Method == MethodMultiTransfer && args.TokenID == "" {
		return args, fmt.Errorf("decode transfer: mt_transfer without token_id")
	}
	return args, nil
}
