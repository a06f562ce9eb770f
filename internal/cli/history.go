package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/rpc"
	"github.com/roach88/sharevault/internal/store"
	"github.com/roach88/sharevault/internal/types"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	After       int64
	SagaID      string
	Limit       int
	Withdrawals bool
	Owner       string
}

// HistoryResult is the output of the history command. Exactly one of
// Events and Withdrawals is set.
type HistoryResult struct {
	Events      []types.Event        `json:"events,omitempty"`
	Withdrawals []rpc.WithdrawalInfo `json:"withdrawals,omitempty"`
}

func (r HistoryResult) String() string {
	var b strings.Builder
	if r.Withdrawals != nil {
		if len(r.Withdrawals) == 0 {
			return "No withdrawals."
		}
		for _, w := range r.Withdrawals {
			fmt.Fprintf(&b, "%s  %-11s %s -> %s  shares=%s assets=%s result=%s",
				w.SagaID, w.Status, w.Owner, w.Receiver, w.Shares, w.Assets, w.Result)
			if w.Error != "" {
				fmt.Fprintf(&b, "  error=%q", w.Error)
			}
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if len(r.Events) == 0 {
		return "No events."
	}
	for _, e := range r.Events {
		fmt.Fprintf(&b, "[%d] %s\n", e.Seq, e)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the event log or the withdrawal saga log",
		Long: `Print vault events in sequence order, optionally narrowed to one
withdrawal saga. With --withdrawals, print the saga log instead.

Examples:
  sharevault history --db ./vault.db
  sharevault history --saga 0190a1b2-... --format json
  sharevault history --after 120 --limit 50
  sharevault history --withdrawals --owner alice.near`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	cmd.Flags().StringVar(&opts.SagaID, "saga", "", "only events of this withdrawal saga")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")
	cmd.Flags().BoolVar(&opts.Withdrawals, "withdrawals", false, "print the withdrawal saga log")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "with --withdrawals, only this owner's sagas")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must be non-negative")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	st, _, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out := formatter(opts.RootOptions, cmd)

	if opts.Withdrawals {
		list, err := st.Withdrawals(ctx, types.AccountID(opts.Owner))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read withdrawals", err)
		}
		infos := make([]rpc.WithdrawalInfo, 0, len(list))
		for _, w := range list {
			infos = append(infos, rpc.NewWithdrawalInfo(w))
		}
		return out.Success(HistoryResult{Withdrawals: infos})
	}

	events, err := st.ReadEvents(ctx, store.EventFilter{
		AfterSeq: opts.After,
		SagaID:   opts.SagaID,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	out.VerboseLog("read %d event(s)", len(events))
	return out.Success(HistoryResult{Events: events})
}
