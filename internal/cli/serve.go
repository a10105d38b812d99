package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recur/internal/actionqueue"
	"github.com/roach88/recur/internal/engine"
	"github.com/roach88/recur/internal/metrics"
	"github.com/roach88/recur/internal/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string
	ExitOnEOF   bool

	// Input overrides the action stream (for testing). Defaults to the
	// command's stdin.
	Input io.Reader
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Apply notification actions and replenish recurrences on a schedule",
		Long: `Run the engine until interrupted.

Notification actions are read from stdin as JSON lines:

  {"kind":"complete_task","id":"water"}
  {"kind":"skip_habit","id":"stretch","reason":"sick"}
  {"kind":"delivered","id":"water"}

Lines that arrive before the engine is ready are buffered and replayed
once it is, delivery marks first. Pending recurrences are swept at startup,
daily at daily_sweep_time and every sweep_interval. Prometheus metrics are
served on metrics_addr when it is set.

Examples:
  recur serve
  notifier | recur serve --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "metrics listen address (overrides config; \"off\" disables)")
	cmd.Flags().BoolVar(&opts.ExitOnEOF, "exit-on-eof", false, "drain stdin, sweep once and exit")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	switch opts.MetricsAddr {
	case "":
	case "off":
		cfg.MetricsAddr = ""
	default:
		cfg.MetricsAddr = opts.MetricsAddr
	}
	engOpts, err := engineOptions(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	hour, minute, err := cfg.DailySweep()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready", "path", cfg.Database)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New()
	eng := engine.New(st, append(engOpts,
		engine.WithObserver(m),
		engine.WithMaterializeObserver(m),
	)...)
	queue := actionqueue.New(engine.SystemClock{}, actionqueue.WithObserver(m))

	// Start reading before the engine is up so early actions are buffered.
	input := opts.Input
	if input == nil {
		input = cmd.InOrStdin()
	}
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		err := queue.Consume(ctx, actionqueue.NewJSONLinesSource(input))
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("action stream stopped", "error", err)
		}
	}()

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	select {
	case <-eng.Lifecycle().Ready():
	case err := <-engineDone:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return WrapExitError(ExitFailure, "engine error", err)
	}
	if err := queue.OnServicesReady(ctx, eng); err != nil {
		slog.Warn("some buffered actions failed", "error", err)
	}

	if opts.ExitOnEOF {
		serveOnce(ctx, eng, consumed)
	} else if err := serveScheduled(ctx, cmd.OutOrStdout(), eng, m, cfg.MetricsAddr, hour, minute, cfg.SweepInterval); err != nil {
		cancel()
		<-engineDone
		return err
	}

	eng.Stop()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

// serveOnce waits for the action stream to end, sweeps once and returns.
func serveOnce(ctx context.Context, eng *engine.Engine, consumed <-chan struct{}) {
	select {
	case <-consumed:
		slog.Info("action stream exhausted")
	case <-ctx.Done():
		return
	}
	created, err := eng.Sweep(ctx)
	if err != nil {
		slog.Error("sweep failed", "error", err)
		return
	}
	slog.Info("sweep complete", "trigger", "eof", "created", len(created))
}

// serveScheduled sweeps on the configured schedule and serves metrics
// until ctx is cancelled.
func serveScheduled(ctx context.Context, w io.Writer, eng *engine.Engine, m *metrics.Metrics,
	metricsAddr string, hour, minute int, interval time.Duration) error {
	sched := scheduler.New(eng.Calendar().Location(), eng)
	if _, err := sched.ScheduleDaily(hour, minute); err != nil {
		return WrapExitError(ExitCommandError, "invalid daily sweep time", err)
	}
	if _, err := sched.ScheduleInterval(interval); err != nil {
		return WrapExitError(ExitCommandError, "invalid sweep interval", err)
	}

	if metricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, metricsAddr); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	fmt.Fprintln(w, "Engine started. Reading actions from stdin...")
	fmt.Fprintln(w, "Press Ctrl-C to stop.")

	return sched.Run(ctx)
}
