package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v3"

	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "backtest",
		Usage:   "Run deterministic bar-by-bar backtests",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			runCommand(),
			schemaCommand(),
			verifyCommand(),
			strategiesCommand(),
		},
	}

	// Ctrl-C cancels a run cooperatively; the engine closes the open
	// position and persists the bundle with status CANCELED.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a backtest and persist the run bundle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML run config; flags below override its values",
			},
			&cli.StringFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Trading symbol (e.g. BTCUSDT)",
			},
			&cli.StringFlag{
				Name:    "timeframe",
				Aliases: []string{"t"},
				Value:   "1h",
				Usage:   "Bar timeframe (1m, 4h, 1d, 1w)",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Value: "ema_cross",
				Usage: "Strategy id to run",
			},
			&cli.TimestampFlag{
				Name:  "start",
				Usage: "Trading window start in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "Trading window end in `YYYY-MM-DD` format. Defaults to today.",
				Value: time.Now(),
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.IntFlag{
				Name:  "warmup",
				Value: types.DefaultWarmupBars,
				Usage: "Warmup bars loaded before the trading window",
			},
			&cli.FloatFlag{
				Name:  "cash",
				Value: 10000,
				Usage: "Initial cash",
			},
			&cli.FloatFlag{
				Name:  "leverage",
				Value: 1,
				Usage: "Maximum leverage for the margin guard",
			},
			&cli.FloatFlag{
				Name:  "commission-bps",
				Value: 10,
				Usage: "Commission in basis points per fill",
			},
			&cli.FloatFlag{
				Name:  "slippage-bps",
				Value: 5,
				Usage: "Side-aware slippage in basis points",
			},
			&cli.BoolFlag{
				Name:  "no-fetch",
				Usage: "Fail on missing bar coverage instead of backfilling from the provider",
			},
			&cli.BoolFlag{
				Name:  "keep-open",
				Usage: "Leave a surviving position open at normal run end",
			},
			&cli.StringSliceFlag{
				Name:    "param",
				Aliases: []string{"p"},
				Usage:   "Strategy parameter override as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:  "db",
				Value: "data/runs.db",
				Usage: "Path to the run store database",
			},
			&cli.StringFlag{
				Name:  "cache",
				Value: "data/bars.db",
				Usage: "Path to the OHLCV bar cache database",
			},
		},
		Action: runAction,
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the run config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			schema := jsonschema.Reflect(&types.RunConfig{})

			out, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.Writer, string(out))

			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check the integrity of a persisted run",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Value: "data/runs.db",
				Usage: "Path to the run store database",
			},
		},
		Action: verifyAction,
	}
}

func strategiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "strategies",
		Usage: "List available strategies",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			registry, err := builtinRegistry()
			if err != nil {
				return err
			}

			for _, schema := range registry.List() {
				fmt.Fprintf(cmd.Writer, "%s\t%s\t%s\n", schema.ID, schema.Name, schema.Version)
			}

			return nil
		},
	}
}
