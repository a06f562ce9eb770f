package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end vault scenario: ledger setup, a flow of
// calls with expected outcomes, and assertions on the resulting trace,
// database and asset ledger.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// VaultID is the vault's account. Defaults to "vault.test".
	VaultID string `yaml:"vault_id,omitempty"`

	// Asset is the underlying asset. Defaults to single-token "usdc.test".
	Asset *AssetSpec `yaml:"asset,omitempty"`

	// Accounts are registered on the simulated asset ledger. The vault is
	// always registered.
	Accounts []string `yaml:"accounts,omitempty"`

	// SagaPrefix prefixes generated saga ids. Defaults to "saga".
	SagaPrefix string `yaml:"saga_prefix,omitempty"`

	// Setup contains ledger actions run before the flow (mint, register,
	// unregister). They are traced like flow steps and must succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the main test flow - calls with expected results.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// AssetSpec describes the underlying asset.
type AssetSpec struct {
	Kind     string `yaml:"kind"`
	Contract string `yaml:"contract"`
	ItemID   string `yaml:"item_id,omitempty"`
}

// ActionStep represents a single setup action.
type ActionStep struct {
	// Action is one of mint, register, unregister.
	Action string `yaml:"action"`

	// Args contains the action arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep represents a step in the main test flow.
type FlowStep struct {
	// Invoke is the call to make (see the Action* constants).
	Invoke string `yaml:"invoke"`

	// Args contains the call arguments.
	Args map[string]any `yaml:"args"`

	// Expect specifies the expected completion. If nil, the step is
	// expected to succeed and its result is not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is "Success" or a vault error code such as "SLIPPAGE_VIOLATION".
	Case string `yaml:"case"`

	// Result contains expected result fields. Subset match; values are
	// compared as decimal strings.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace, database state or asset ledger balances.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is a call name or event kind (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected arguments or event fields (trace_contains).
	// Subset match.
	Args map[string]any `yaml:"args,omitempty"`

	// Table is the database table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Account and Amount check an asset ledger balance (ledger_balance).
	Account string `yaml:"account,omitempty"`
	Amount  string `yaml:"amount,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertLedgerBalance = "ledger_balance"
)

// Step names.
const (
	ActionMint       = "mint"
	ActionRegister   = "register"
	ActionUnregister = "unregister"

	ActionTransferCall      = "ft_transfer_call"
	ActionMultiTransferCall = "mt_transfer_call"
	ActionOnTransfer        = "ft_on_transfer"
	ActionRedeem            = "redeem"
	ActionWithdraw          = "withdraw"

	ActionTotalAssets     = "total_assets"
	ActionTotalSupply     = "total_supply"
	ActionBalanceOf       = "balance_of"
	ActionConvertToShares = "convert_to_shares"
	ActionConvertToAssets = "convert_to_assets"
	ActionPreviewDeposit  = "preview_deposit"
	ActionPreviewRedeem   = "preview_redeem"
	ActionPreviewWithdraw = "preview_withdraw"
	ActionMaxDeposit      = "max_deposit"
	ActionMaxRedeem       = "max_redeem"
	ActionMaxWithdraw     = "max_withdraw"
)

var setupActions = map[string]bool{
	ActionMint:       true,
	ActionRegister:   true,
	ActionUnregister: true,
}

var flowActions = map[string]bool{
	ActionMint:              true,
	ActionRegister:          true,
	ActionUnregister:        true,
	ActionTransferCall:      true,
	ActionMultiTransferCall: true,
	ActionOnTransfer:        true,
	ActionRedeem:            true,
	ActionWithdraw:          true,
	ActionTotalAssets:       true,
	ActionTotalSupply:       true,
	ActionBalanceOf:         true,
	ActionConvertToShares:   true,
	ActionConvertToAssets:   true,
	ActionPreviewDeposit:    true,
	ActionPreviewRedeem:     true,
	ActionPreviewWithdraw:   true,
	ActionMaxDeposit:        true,
	ActionMaxRedeem:         true,
	ActionMaxWithdraw:       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, ordered by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Asset != nil && s.Asset.Kind != "single" && s.Asset.Kind != "multi" {
		return fmt.Errorf("asset.kind must be single or multi, got %q", s.Asset.Kind)
	}

	for i, step := range s.Setup {
		if !setupActions[step.Action] {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required", i)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if !flowActions[step.Invoke] {
			return fmt.Errorf("flow[%d]: unknown invoke %q", i, step.Invoke)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertLedgerBalance:
		if a.Account == "" || a.Amount == "" {
			return fmt.Errorf("assertions[%d]: account and amount are required for ledger_balance", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
