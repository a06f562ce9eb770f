package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sharevault/internal/config"
	"github.com/roach88/sharevault/internal/host"
	"github.com/roach88/sharevault/internal/metrics"
	"github.com/roach88/sharevault/internal/rpc"
)

const (
	// shutdownTimeout bounds how long serve waits for HTTP handlers and
	// in-flight withdrawals when stopping.
	shutdownTimeout = 15 * time.Second

	// startupRecoverTimeout bounds how long serve waits for recovered
	// withdrawals before it starts listening. Slower ones keep settling
	// in the background.
	startupRecoverTimeout = 30 * time.Second
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen        string
	MetricsListen string
	Register      []string // accounts registered on the simulated ledger
	SkipRecover   bool

	// ready, if set, receives the bound API address once serving (tests).
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault host and HTTP API",
		Long: `Start the single-writer vault host, re-dispatch withdrawals left
committed by a previous run, and serve the HTTP API (and /metrics).

Calls must carry a bearer token signed with auth.secret (see the token
command); serve refuses to start without one.

Without asset_ledger.endpoint the vault pays out through an in-process
simulated ledger; --register names the accounts that ledger accepts.

Example:
  sharevault serve --config vault.yaml
  sharevault serve --db ./vault.db --listen :8080 --register alice,bob`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "API listen address (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "separate /metrics listen address (overrides config)")
	cmd.Flags().StringSliceVar(&opts.Register, "register", nil, "accounts to register on the simulated ledger")
	cmd.Flags().BoolVar(&opts.SkipRecover, "skip-recover", false, "do not re-dispatch committed withdrawals at startup")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.MetricsListen != "" {
		cfg.MetricsListen = opts.MetricsListen
	}
	setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)
	if cfg.Auth.Secret == "" {
		return NewExitError(ExitCommandError, "auth.secret is not set (config or "+config.EnvPrefix+"AUTH_SECRET)")
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("opening database", "path", cfg.Database)
	st, vcfg, err := openVault(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	collector := metrics.NewCollector("")
	var observer host.Observer = collector

	assets, sim := assetLedger(cfg, vcfg.ID, opts.Register)
	if sim != nil {
		if err := seedSimulated(ctx, st, sim, vcfg); err != nil {
			return WrapExitError(ExitCommandError, "failed to seed simulated ledger", err)
		}
		observer = simulatedFunding{Observer: collector, sim: sim, asset: vcfg.Asset, vaultID: vcfg.ID}
		slog.Warn("no asset ledger endpoint configured, using simulated ledger", "registered", opts.Register)
	}

	h, err := host.New(st, vcfg, assets,
		host.WithTimeouts(cfg.Timeouts()),
		host.WithObserver(observer),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create host", err)
	}

	// The loop outlives ctx so that draining withdrawals can still resolve.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- h.Run(loopCtx) }()

	if !opts.SkipRecover {
		rctx, rcancel := context.WithTimeout(ctx, startupRecoverTimeout)
		outcomes, err := h.Recover(rctx)
		rcancel()
		for _, o := range outcomes {
			slog.Info("recovered withdrawal", "saga_id", o.SagaID, "status", o.Status, "assets", o.Assets.String())
		}
		if err != nil {
			slog.Error("recovery incomplete", "error", err)
		}
	}

	rpcCfg := rpc.Config{
		Auth:  rpc.NewAuthenticator([]byte(cfg.Auth.Secret), vcfg.ID),
		RPS:   cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	}
	if cfg.MetricsListen == "" {
		rpcCfg.Metrics = collector.Handler()
	}
	servers := []*http.Server{
		{Handler: rpc.NewServer(h, st, rpcCfg), ReadHeaderTimeout: 10 * time.Second},
	}
	addrs := []string{cfg.Listen}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		servers = append(servers, &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second})
		addrs = append(addrs, cfg.MetricsListen)
	}

	serveErr := make(chan error, len(servers))
	for i, srv := range servers {
		ln, err := net.Listen("tcp", addrs[i])
		if err != nil {
			cancel()
			drain(h, stopLoop, loopDone, servers[:i])
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", addrs[i]), err)
		}
		slog.Info("listening", "addr", ln.Addr().String())
		if i == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Vault %s serving on %s\n", vcfg.ID, ln.Addr())
			if opts.ready != nil {
				opts.ready <- ln.Addr().String()
			}
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = WrapExitError(ExitFailure, "server error", err)
	case err := <-loopDone:
		loopDone <- err
		runErr = WrapExitError(ExitFailure, "host stopped unexpectedly", err)
	}

	drain(h, stopLoop, loopDone, servers)
	slog.Info("host stopped gracefully")
	return runErr
}

// drain stops the HTTP servers, waits for in-flight withdrawals to resolve
// and stops the host loop, all within shutdownTimeout.
func drain(h *host.Host, stopLoop context.CancelFunc, loopDone <-chan error, servers []*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown", "error", err)
		}
	}

	settled := make(chan struct{})
	go func() {
		h.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-shutdownCtx.Done():
		slog.Warn("withdrawals still in flight at shutdown; recover will resume them")
	}

	h.Stop()
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		stopLoop()
		<-loopDone
	}
}
