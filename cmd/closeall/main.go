package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/camuig/hype-trader/internal/broker"
	"github.com/camuig/hype-trader/internal/config"
	"github.com/camuig/hype-trader/internal/logger"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:          "closeall",
		Short:        "Flatten every open position with market orders",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bc, err := broker.NewClient(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("broker init: %w", err)
			}
			defer bc.Stop()

			return closeAll(ctx, bc, cmd.OutOrStdout(), dryRun, time.Now())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&envFile, "env", ".env", "path to .env file with secrets")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show positions without closing")
	return cmd
}

type flattener interface {
	Account(ctx context.Context) (broker.Account, error)
	ClosePosition(ctx context.Context, p broker.Position, orderID string) (*broker.OrderResult, error)
}

// closeOrderNamespace keys close orders by day, so rerunning the tool the same day
// does not send a second close for a position the broker already took.
var closeOrderNamespace = uuid.MustParse("6f1c2a9e-3d4b-4c8a-9e7f-2b5d1a0c8e64")

func closeOrderID(symbol string, qty int64, now time.Time) string {
	key := fmt.Sprintf("%s:%s:%d", now.UTC().Format("20060102"), symbol, qty)
	return uuid.NewSHA1(closeOrderNamespace, []byte(key)).String()
}

func closeAll(ctx context.Context, b flattener, out io.Writer, dryRun bool, now time.Time) error {
	acc, err := b.Account(ctx)
	if err != nil {
		return fmt.Errorf("get portfolio: %w", err)
	}

	var open []broker.Position
	for _, p := range acc.Positions {
		if p.Quantity != 0 {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		fmt.Fprintln(out, "No open positions.")
		return nil
	}

	fmt.Fprintf(out, "Found %d position(s):\n\n", len(open))
	for _, p := range open {
		fmt.Fprintf(out, "  %s: %d шт, ср.цена %.2f, текущая %.2f, P&L %.2f\n",
			p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice, p.PnL)
	}
	fmt.Fprintln(out)

	if dryRun {
		fmt.Fprintln(out, "Dry run, no orders placed.")
		return nil
	}

	var closed, failed int
	for _, p := range open {
		res, err := b.ClosePosition(ctx, p, closeOrderID(p.Symbol, p.Quantity, now))
		if err != nil {
			fmt.Fprintf(out, "  [FAIL] %s: close: %v\n", p.Symbol, err)
			failed++
			continue
		}
		if res.OrderRef == "" {
			fmt.Fprintf(out, "  [SKIP] %s: less than one lot\n", p.Symbol)
			continue
		}
		if res.Status.Dead() {
			fmt.Fprintf(out, "  [FAIL] %s: order %s %s\n", p.Symbol, res.OrderRef, res.Status)
			failed++
			continue
		}

		fmt.Fprintf(out, "  [OK]   %s: %s %d @ %s\n", p.Symbol, res.Status, res.FilledQty, res.AvgPrice.StringFixed(2))
		closed++
	}

	fmt.Fprintf(out, "\nDone: %d closed, %d failed.\n", closed, failed)
	if failed > 0 {
		return fmt.Errorf("%d position(s) not closed", failed)
	}
	return nil
}
