// ============================================================================
// lapboard CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the live lap-timing leaderboard
//
// Command Structure:
//   lapboard                       # Root command
//   ├── watch                      # Periodic refresh with a live table
//   ├── fetch                      # One cycle, print the table (or JSON)
//   ├── export                     # One cycle, write JSON/XLSX
//   ├── show                       # Print a saved JSON export
//   ├── status                     # Show config and a running instance's state
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   └── --log-level                # debug, info, warn, error
//
//   Session flags (watch, fetch, export):
//     --event, --session, --laps, --method
//
// Configuration Management:
//   YAML file (default: configs/default.yaml). A missing file means defaults.
//   Sections: timing, session, refresh, server, metrics, log.
//   Flags that are set override the file.
//
// watch Command:
//   1. Load config and apply flags
//   2. Build the timing client, scheduler and sinks (table + board + log)
//   3. Start the HTTP control API / gRPC health / metrics (if enabled)
//   4. Start periodic refresh
//   5. Wait for SIGINT/SIGTERM, then close the scheduler gracefully
//
//   Examples:
//     ./lapboard watch --event 1234 --session 5678 --laps 5 --method best
//     ./lapboard watch -c configs/default.yaml --interval 10s
//
// fetch / export Commands:
//   Run exactly one cycle. A validation or fetch error is the command error.
//
//   Examples:
//     ./lapboard fetch --event 1234 --session 5678 --json
//     ./lapboard export --event 1234 --session 5678 -o results.xlsx
//
// show Command:
//   Reads a JSON export back (schema_ver checked) and prints it as a table.
//
//   Example:
//     ./lapboard show -i results.json
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/lapboard/internal/metrics"
	"github.com/ChuLiYu/lapboard/internal/report"
	"github.com/ChuLiYu/lapboard/internal/scheduler"
	"github.com/ChuLiYu/lapboard/internal/server"
	"github.com/ChuLiYu/lapboard/internal/sink"
	"github.com/ChuLiYu/lapboard/internal/speedhive"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

var (
	configFile string
	logLevel   string
)

// sessionFlags are the per-command overrides of the session section.
type sessionFlags struct {
	event   string
	session string
	laps    string
	method  string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.event, "event", "", "event id")
	cmd.Flags().StringVar(&f.session, "session", "", "session id")
	cmd.Flags().StringVar(&f.laps, "laps", "", "number of laps to average")
	cmd.Flags().StringVar(&f.method, "method", "", "lap selection: best or last")
}

func (f *sessionFlags) apply(cmd *cobra.Command, in *types.Input) {
	if cmd.Flags().Changed("event") {
		in.EventID = f.event
	}
	if cmd.Flags().Changed("session") {
		in.SessionID = f.session
	}
	if cmd.Flags().Changed("laps") {
		in.Laps = f.laps
	}
	if cmd.Flags().Changed("method") {
		in.Method = f.method
	}
}

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lapboard",
		Short: "lapboard: a live lap-timing leaderboard",
		Long: `lapboard ranks the competitors of a live-timing session by the
average of their best or last N laps and keeps the ranking fresh:
- tolerant two-stage fetch (roster, then per-competitor laps)
- periodic refresh with start/stop over an HTTP control API
- Prometheus metrics and gRPC health
- JSON and XLSX export`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")

	rootCmd.AddCommand(buildWatchCommand())
	rootCmd.AddCommand(buildFetchCommand())
	rootCmd.AddCommand(buildExportCommand())
	rootCmd.AddCommand(buildShowCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

// setup loads the config and installs the default slog handler.
func setup(cmd *cobra.Command, flags *sessionFlags) (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags != nil {
		flags.apply(cmd, &cfg.Session)
	}

	levelText := cfg.Log.Level
	if logLevel != "" {
		levelText = logLevel
	}
	level, err := parseLevel(levelText)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// ============================================================================
// watch
// ============================================================================

func buildWatchCommand() *cobra.Command {
	var flags sessionFlags
	var interval time.Duration
	var clearScreen bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start periodic refresh and keep the leaderboard on screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, &flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Refresh.Interval = interval
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), cfg, logger, clearScreen)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", scheduler.DefaultInterval, "refresh interval (overrides refresh.interval)")
	cmd.Flags().BoolVar(&clearScreen, "clear", true, "clear the terminal before each table")

	return cmd
}

func runWatch(parent context.Context, out io.Writer, cfg *Config, logger *slog.Logger, clearScreen bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled || cfg.Server.Enabled {
		collector = metrics.NewCollector()
	}

	board := sink.NewBoard()
	sched, err := scheduler.New(scheduler.Config{
		Interval:     cfg.Refresh.Interval,
		CycleTimeout: cfg.Refresh.CycleTimeout,
		Input:        cfg.Session,
		Logger:       logger,
		Metrics:      collector,
	}, speedhive.NewClient(cfg.clientConfig(logger)), sink.Fanout{
		board,
		sink.NewTable(out, clearScreen),
		sink.NewLog(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer sched.Close()

	api := server.New(sched, board, logger)

	if cfg.Server.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			if err := api.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP API stopped", "error", err)
			}
		}()
		if cfg.Server.GRPCPort != 0 {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
				if err := api.ServeGRPC(ctx, addr); err != nil {
					logger.Error("gRPC health stopped", "error", err)
				}
			}()
		}
	}
	if cfg.Metrics.Enabled && !(cfg.Server.Enabled && cfg.Server.Port == cfg.Metrics.Port) {
		go func() {
			logger.Info("metrics listening", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start refresh: %w", err)
	}
	api.SyncHealth()

	logger.Info("watching session",
		"event", cfg.Session.EventID,
		"session", cfg.Session.SessionID,
		"interval", cfg.Refresh.Interval)

	<-ctx.Done()
	logger.Info("received shutdown signal, stopping gracefully")

	sched.Close()
	api.SyncHealth()
	return nil
}

// ============================================================================
// fetch / export
// ============================================================================

func buildFetchCommand() *cobra.Command {
	var flags sessionFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one refresh cycle and print the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, &flags)
			if err != nil {
				return err
			}
			board, err := fetchOnce(cfg, logger)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(board)
			}
			fmt.Fprint(cmd.OutOrStdout(), sink.RenderTable(board))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	return cmd
}

func buildExportCommand() *cobra.Command {
	var flags sessionFlags
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run one refresh cycle and write the leaderboard to a file",
		Long:  "Write the leaderboard as JSON or XLSX; the format follows the --output extension.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("output file is required (use --output or -o)")
			}
			manager, err := report.NewManager(output)
			if err != nil {
				return err
			}
			cfg, logger, err := setup(cmd, &flags)
			if err != nil {
				return err
			}
			board, err := fetchOnce(cfg, logger)
			if err != nil {
				return err
			}
			if manager.Exists() {
				logger.Info("replacing existing export", "path", manager.GetPath())
			}
			if err := manager.Write(board); err != nil {
				return fmt.Errorf("failed to export leaderboard: %w", err)
			}
			logger.Info("leaderboard exported",
				"path", manager.GetPath(),
				"format", manager.GetFormat(),
				"ranked", len(board.Results))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (.json or .xlsx)")
	cmd.MarkFlagRequired("output")

	return cmd
}

func buildShowCommand() *cobra.Command {
	var input string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a leaderboard saved by export",
		Long:  "Load a JSON export written by 'lapboard export' and print it as a table (or JSON).",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := report.NewManager(input)
			if err != nil {
				return err
			}
			doc, err := manager.Load()
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", manager.GetPath(), err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc.Leaderboard)
			}
			fmt.Fprint(out, sink.RenderTable(doc.Leaderboard))
			fmt.Fprintf(out, "Exported %s\n", doc.ExportedAt.Local().Format(time.DateTime))
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON export to read")
	cmd.MarkFlagRequired("input")

	return cmd
}

// fetchOnce runs a single cycle through the scheduler and returns its board.
func fetchOnce(cfg *Config, logger *slog.Logger) (types.Leaderboard, error) {
	board := sink.NewBoard()
	sched, err := scheduler.New(scheduler.Config{
		Interval:     cfg.Refresh.Interval,
		CycleTimeout: cfg.Refresh.CycleTimeout,
		Input:        cfg.Session,
		Logger:       logger,
	}, speedhive.NewClient(cfg.clientConfig(logger)), sink.Fanout{board, sink.NewLog(logger)})
	if err != nil {
		return types.Leaderboard{}, fmt.Errorf("failed to create scheduler: %w", err)
	}

	err = sched.RefreshNow()
	sched.Close()
	if err != nil {
		return types.Leaderboard{}, err
	}

	if err := board.Err(); err != nil {
		return types.Leaderboard{}, err
	}
	state := board.Snapshot()
	if state.Leaderboard == nil {
		return types.Leaderboard{}, errors.New("refresh produced no leaderboard")
	}
	return *state.Leaderboard, nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and live status",
		Long:  "Display the effective configuration and, when the HTTP API is enabled, the state of a running watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			return showStatus(cmd.OutOrStdout(), cfg)
		},
	}
	return cmd
}

func showStatus(out io.Writer, cfg *Config) error {
	fmt.Fprintln(out, "\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║           lapboard Status                                 ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📋 Configuration:")
	fmt.Fprintf(out, "  ├─ Config File:     %s\n", configFile)
	fmt.Fprintf(out, "  ├─ Timing API:      %s\n", cfg.Timing.BaseURL)
	fmt.Fprintf(out, "  ├─ Request Timeout: %s\n", cfg.Timing.RequestTimeout)
	fmt.Fprintf(out, "  └─ Refresh Every:   %s\n", cfg.Refresh.Interval)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🏁 Session:")
	fmt.Fprintf(out, "  ├─ Event:   %s\n", orDash(cfg.Session.EventID))
	fmt.Fprintf(out, "  ├─ Session: %s\n", orDash(cfg.Session.SessionID))
	fmt.Fprintf(out, "  └─ Average: %s of %s laps\n", cfg.Session.Method, cfg.Session.Laps)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🔄 Refresh:")
	if cfg.Server.Enabled {
		st, err := fetchLiveStatus(cfg.Server.Port)
		if err != nil {
			fmt.Fprintf(out, "  └─ Watcher not reachable on :%d (%v)\n", cfg.Server.Port, err)
		} else {
			fmt.Fprintf(out, "  ├─ State:      %s\n", st.State)
			fmt.Fprintf(out, "  └─ Generation: %d\n", st.Generation)
		}
	} else {
		fmt.Fprintln(out, "  └─ HTTP API disabled (set server.enabled to query a running watcher)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Fprintln(out, "  └─ Status: ⚠️  Disabled")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
	return nil
}

func fetchLiveStatus(port int) (server.Status, error) {
	var st server.Status
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/status", port))
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("failed to decode status: %w", err)
	}
	return st, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
