package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
	"github.com/camuig/hype-trader/internal/scheduler"
	"github.com/camuig/hype-trader/internal/status"
	"github.com/camuig/hype-trader/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "hype-trader",
		Short:        "Hype Trader - news sentiment trading loop for MOEX",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "path to .env file with secrets")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newOnceCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newKillSwitchCmd(opts))

	return root
}

func newRunCmd(opts *options) *cobra.Command {
	var interval string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			if interval != "" {
				cfg.Scheduler.Interval = interval
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			return runLoop(cfg)
		},
	}

	cmd.Flags().StringVar(&interval, "interval", "", "override scheduler.interval, e.g. 10m")
	return cmd
}

func runLoop(cfg *config.Config) error {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if a.web != nil {
		go func() {
			if err := a.web.Start(); err != nil {
				log.Error("web server error", "error", err)
			}
		}()
	}

	a.notifier.NotifyStatus(fmt.Sprintf("🤖 Hype-Trader запущен (%s)", a.mode))

	// Run returns only between passes, after the pass in flight has been recorded.
	a.scheduler.Run(ctx)
	log.Info("shutdown signal received")

	a.notifier.NotifyStatus("🛑 Hype-Trader остановлен")
	return nil
}

func newOnceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single pass over the instrument set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			return a.scheduler.RunPass(ctx)
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "config is invalid:")
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return errors.New("config validation failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid\n", opts.configPath)
			return nil
		},
	})

	return configCmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show portfolio state, last cycle and operations needing attention",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer storage.Close(db)

			report, err := status.Build(cmd.Context(), storage.NewRepository(db), modeOf(cfg), 0)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprint(cmd.OutOrStdout(), status.Render(report))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newKillSwitchCmd(opts *options) *cobra.Command {
	ks := &cobra.Command{
		Use:   "kill-switch",
		Short: "Manage the drawdown kill switch",
	}

	ks.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Release the kill switch and re-base peak equity to current equity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.configPath)
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer storage.Close(db)

			return clearKillSwitch(cmd.Context(), storage.NewRepository(db), cmd, time.Now())
		},
	})

	return ks
}

type stateStore interface {
	LoadPortfolioState(ctx context.Context) (*storage.PortfolioStateRecord, error)
	SavePortfolioState(ctx context.Context, st *storage.PortfolioStateRecord) error
}

func clearKillSwitch(ctx context.Context, store stateStore, cmd *cobra.Command, now time.Time) error {
	rec, err := store.LoadPortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("load portfolio state: %w", err)
	}
	state := scheduler.StateFromRecord(rec)
	if !state.KillSwitch {
		fmt.Fprintln(cmd.OutOrStdout(), "kill switch is not engaged")
		return nil
	}

	state.ClearKillSwitch(now)
	if err := store.SavePortfolioState(ctx, scheduler.RecordFromState(state)); err != nil {
		return fmt.Errorf("save portfolio state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kill switch cleared, peak equity re-based to %.2f\n", state.PeakEquity)
	return nil
}

func modeOf(cfg *config.Config) string {
	mode := "LIVE"
	if cfg.IsSandbox() {
		mode = "SANDBOX"
	}
	if cfg.Execution.DryRun {
		mode += " DRY-RUN"
	}
	return mode
}
