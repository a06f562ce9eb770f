// Package harness runs vault scenarios end to end.
//
// A scenario drives a real host over a fresh SQLite store and a simulated
// asset ledger. Every step is recorded in a trace together with the vault
// events it emitted, and the trace is compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	asset: { kind: single, contract: usdc.test }
//	accounts: [alice, bob]
//	setup:
//	  - action: mint
//	    args: { account: alice, amount: "1000" }
//	flow:
//	  - invoke: ft_transfer_call
//	    args: { sender: alice, amount: "1000" }
//	    expect:
//	      case: Success
//	      result: { kept: "1000" }
//	assertions:
//	  - type: trace_contains
//	    action: ft_mint
//	    args: { owner_id: alice }
//	  - type: final_state
//	    table: share_balances
//	    where: { account: alice }
//	    expect: { shares: "1000" }
//	  - type: ledger_balance
//	    account: alice
//	    amount: "0"
//
// Amounts are decimal strings so that 128-bit values survive YAML.
//
// Runs are deterministic: saga ids come from testutil.SequentialSagaIDs,
// saga log timestamps from testutil.DeterministicClock, and trace sequence
// numbers from a second deterministic clock.
package harness
