package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/store"
)

// InitResult is the output of the init command.
type InitResult struct {
	Database string `json:"database"`
	VaultID  string `json:"vault_id"`
	Asset    string `json:"asset"`
}

func (r InitResult) String() string {
	return fmt.Sprintf("Initialized vault %s over %s in %s", r.VaultID, r.Asset, r.Database)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database and record the vault identity",
		Long: `Create the SQLite database (if needed) and record the vault id and
underlying asset from the config. Running init again with the same config
is a no-op; a database created for another vault is refused.

Example:
  sharevault init --config vault.yaml
  sharevault init --db ./vault.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	vcfg, err := cfg.Vault()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid vault config", err)
	}

	out := formatter(opts, cmd)
	out.VerboseLog("opening database %s", cfg.Database)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := st.Init(commandContext(cmd), vcfg.ID, vcfg.Asset); err != nil {
		if errors.Is(err, store.ErrVaultMismatch) {
			return WrapExitError(ExitFailure, "database belongs to another vault", err)
		}
		return WrapExitError(ExitCommandError, "failed to initialize vault", err)
	}

	return out.Success(InitResult{
		Database: cfg.Database,
		VaultID:  string(vcfg.ID),
		Asset:    vcfg.Asset.String(),
	})
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
