// Command evstore benchmarks and inspects tip stores.
//
//	evstore bench --backend nats --streams 8 --workers 4
//	evstore dump tally-abc --backend sqlite --sqlite-path evstore.db
//	evstore serve-metrics --backend pebble --metrics-addr :9090
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	promadapter "github.com/codewandler/evstore/adapters/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg Config
	envErr := ParseEnv(&cfg)

	rootCmd := &cobra.Command{
		Use:          "evstore",
		Short:        "Tip store tooling",
		Long:         "evstore runs contention benchmarks against tip store backends and prints stored streams.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return envErr
			}
			return cfg.validate()
		},
	}
	bindFlags(rootCmd, &cfg)

	rootCmd.AddCommand(
		newBenchCmd(&cfg),
		newDumpCmd(&cfg),
		newServeMetricsCmd(&cfg),
	)
	return rootCmd
}

// newLogger logs to w; stdout is left to command output.
func newLogger(cfg *Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.logLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func bindBenchFlags(cmd *cobra.Command, opts *benchOptions) {
	fs := cmd.Flags()
	fs.IntVar(&opts.Streams, "streams", opts.Streams, "streams written concurrently")
	fs.IntVar(&opts.Workers, "workers", opts.Workers, "deciders contending for each stream")
	fs.IntVar(&opts.Ops, "ops", opts.Ops, "transactions per worker")
	fs.StringVar(&opts.Strategy, "strategy", opts.Strategy, "access strategy: "+strings.Join(strategies, ", "))
	fs.BoolVar(&opts.Cache, "cache", opts.Cache, "cache loaded state in memory")
	fs.IntVar(&opts.NoteSize, "note-size", opts.NoteSize, "padding bytes per event")
	fs.IntVar(&opts.MaxAttempts, "max-attempts", opts.MaxAttempts, "attempts per transaction before giving up")
}

func newBenchCmd(cfg *Config) *cobra.Command {
	opts := defaultBenchOptions()
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent deciders against the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tbl, closeTables, err := openTables(cmd.Context(), *cfg, log)
			if err != nil {
				return err
			}
			defer closeTables()

			reg := newMetricsRegistry()
			b, err := newBench(tbl.primary, *cfg, opts, reg, promadapter.NewESMetrics(reg), log, tbl.storeOptions()...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backend: %s\n", cfg.Backend)
			report, err := b.run(cmd.Context())
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			if report.Lost > 0 {
				return fmt.Errorf("%d streams lost updates", report.Lost)
			}
			return nil
		},
	}
	bindBenchFlags(cmd, &opts)
	return cmd
}

func newDumpCmd(cfg *Config) *cobra.Command {
	opts := dumpOptions{PageSize: 32}
	cmd := &cobra.Command{
		Use:   "dump <stream>",
		Short: "Print the tip and calves of a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			table, closeTable, err := openTable(cmd.Context(), *cfg, log)
			if err != nil {
				return err
			}
			defer closeTable()
			return dump(cmd.Context(), cmd.OutOrStdout(), table, args[0], opts)
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.Forward, "forward", opts.Forward, "list calves oldest first")
	fs.IntVar(&opts.PageSize, "page-size", opts.PageSize, "calves per query")
	fs.BoolVar(&opts.HeadersOnly, "headers-only", opts.HeadersOnly, "omit events and unfolds")
	return cmd
}

func newServeMetricsCmd(cfg *Config) *cobra.Command {
	opts := defaultBenchOptions()
	interval := 10 * time.Second
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics while running bench rounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tbl, closeTables, err := openTables(cmd.Context(), *cfg, log)
			if err != nil {
				return err
			}
			defer closeTables()

			reg := newMetricsRegistry()
			b, err := newBench(tbl.primary, *cfg, opts, reg, promadapter.NewESMetrics(reg), log, tbl.storeOptions()...)
			if err != nil {
				return err
			}
			return serveMetrics(cmd.Context(), cfg.MetricsAddr, reg, b, interval, log)
		},
	}
	bindBenchFlags(cmd, &opts)
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address of the metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", interval, "pause between bench rounds")
	return cmd
}
