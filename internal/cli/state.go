package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/store"
)

// StateResult is the output of the state command.
type StateResult struct {
	store.State
}

func (r StateResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vault:        %s\n", r.VaultID)
	fmt.Fprintf(&b, "Asset:        %s\n", r.Asset)
	fmt.Fprintf(&b, "Total assets: %s\n", r.TotalAssets)
	fmt.Fprintf(&b, "Total supply: %s\n", r.TotalSupply)
	fmt.Fprintf(&b, "Pending:      %d withdrawal(s)\n", r.Pending)
	if len(r.Holders) > 0 {
		fmt.Fprintf(&b, "\nHolders:\n")
		for _, h := range r.Holders {
			fmt.Fprintf(&b, "  %-24s %s\n", h.Account, h.Shares)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print pool totals and share holders",
		Long: `Print the vault's total assets, total share supply, every share
holder and the number of withdrawals still awaiting resolution.

Example:
  sharevault state --db ./vault.db
  sharevault state --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(rootOpts, cmd)
		},
	}
	return cmd
}

func runState(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	st, _, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.ReadState(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read state", err)
	}
	return formatter(opts, cmd).Success(StateResult{State: state})
}
