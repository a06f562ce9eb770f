package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/host"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	Register []string
	Timeout  time.Duration
}

// RecoverResult lists the settled withdrawals.
type RecoverResult struct {
	Outcomes []host.Outcome `json:"outcomes"`
	Errors   []string       `json:"errors,omitempty"`
}

// String renders one line per withdrawal.
func (r RecoverResult) String() string {
	if len(r.Outcomes) == 0 && len(r.Errors) == 0 {
		return "No pending withdrawals"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recovered %d withdrawal(s)", len(r.Outcomes))
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "\n  %s  %-11s shares=%s assets=%s", o.SagaID, o.Status, o.Shares, o.Assets)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Settle withdrawals left committed by an interrupted run",
		Long: `Re-dispatch every committed withdrawal under its original saga id and
wait for each to finalize or compensate. The asset ledger de-duplicates by
saga id, so a payout that already happened is not repeated. Withdrawals the
ledger has not answered for by --timeout stay committed for the next run.

Example:
  sharevault recover --config vault.yaml --timeout 2m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Register, "register", nil, "accounts to register on the simulated ledger")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "how long to keep retrying unanswered transfers")

	return cmd
}

func runRecover(opts *RecoverOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)

	ctx := commandContext(cmd)
	st, vcfg, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	assets, sim := assetLedger(cfg, vcfg.ID, opts.Register)
	if sim != nil {
		if err := seedSimulated(ctx, st, sim, vcfg); err != nil {
			return WrapExitError(ExitCommandError, "failed to seed simulated ledger", err)
		}
	}

	h, err := host.New(st, vcfg, assets, host.WithTimeouts(cfg.Timeouts()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create host", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopDone := make(chan error, 1)
	go func() { loopDone <- h.Run(loopCtx) }()

	recCtx := ctx
	if opts.Timeout > 0 {
		var recCancel context.CancelFunc
		recCtx, recCancel = context.WithTimeout(ctx, opts.Timeout)
		defer recCancel()
	}
	outcomes, recErr := h.Recover(recCtx)
	// Stop first so transfers still retrying give up and Wait returns.
	h.Stop()
	h.Wait()
	if err := <-loopDone; err != nil {
		slog.Error("host loop", "error", err)
	}

	// A withdrawal whose dispatch failed leaves a zero Outcome.
	result := RecoverResult{Outcomes: []host.Outcome{}}
	for _, o := range outcomes {
		if o.SagaID != "" {
			result.Outcomes = append(result.Outcomes, o)
		}
	}
	if recErr != nil {
		result.Errors = strings.Split(recErr.Error(), "\n")
	}
	if err := formatter(opts.RootOptions, cmd).Success(result); err != nil {
		return err
	}
	if recErr != nil {
		return NewExitError(ExitFailure, "some withdrawals could not be settled")
	}
	return nil
}
