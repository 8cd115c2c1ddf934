package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	examples "github.com/halcyonquant/backtest/examples/strategy"
	"github.com/halcyonquant/backtest/internal/engine"
	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/marketdata"
	"github.com/halcyonquant/backtest/internal/report"
	"github.com/halcyonquant/backtest/internal/store"
	"github.com/halcyonquant/backtest/internal/strategy"
	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

func builtinRegistry() (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	if err := registry.Register(examples.NewEMACross()); err != nil {
		return nil, err
	}

	return registry, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := buildRunConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := builtinRegistry()
	if err != nil {
		return err
	}

	strat, err := registry.Get(cfg.StrategyID)
	if err != nil {
		return err
	}

	schema := strat.Schema()

	resolved, err := schema.ResolveParams(cfg.Params)
	if err != nil {
		return err
	}

	cfg.Params = resolved

	if err := cfg.Validate(); err != nil {
		return err
	}

	bars, err := loadBars(ctx, cmd, cfg, log)
	if err != nil {
		return err
	}

	progress := progressbar.Default(int64(len(bars)))
	progress.Describe(fmt.Sprintf("Backtesting %s on %s %s", schema.Name, cfg.Symbol, cfg.Timeframe))

	onProgress := optional.Some[engine.ProgressCallback](func(current, total int) {
		progress.Set(current)
	})

	runner := engine.NewRunner(log)

	result, err := runner.Run(ctx, bars, strat, cfg.Params, cfg, onProgress)
	if err != nil {
		return err
	}

	runID, err := persistRun(cmd.String("db"), cfg, schema, result, log)
	if err != nil {
		return err
	}

	printReport(cmd, runID, result)

	return nil
}

// buildRunConfig assembles the run config from the optional YAML file and
// the command-line flags; an explicitly set flag wins over the file.
func buildRunConfig(cmd *cli.Command) (types.RunConfig, error) {
	cfg := types.RunConfig{
		Timeframe:     cmd.String("timeframe"),
		WarmupBars:    int(cmd.Int("warmup")),
		InitialCash:   cmd.Float("cash"),
		Leverage:      cmd.Float("leverage"),
		CommissionBps: cmd.Float("commission-bps"),
		SlippageBps:   cmd.Float("slippage-bps"),
		StrategyID:    cmd.String("strategy"),
		CloseOnFinish: true,
	}

	if path := cmd.String("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
		}

		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
		}
	}

	if cmd.IsSet("symbol") || cfg.Symbol == "" {
		cfg.Symbol = cmd.String("symbol")
	}

	for _, name := range []string{"timeframe", "strategy", "warmup", "cash", "leverage", "commission-bps", "slippage-bps"} {
		if !cmd.IsSet(name) {
			continue
		}

		switch name {
		case "timeframe":
			cfg.Timeframe = cmd.String("timeframe")
		case "strategy":
			cfg.StrategyID = cmd.String("strategy")
		case "warmup":
			cfg.WarmupBars = int(cmd.Int("warmup"))
		case "cash":
			cfg.InitialCash = cmd.Float("cash")
		case "leverage":
			cfg.Leverage = cmd.Float("leverage")
		case "commission-bps":
			cfg.CommissionBps = cmd.Float("commission-bps")
		case "slippage-bps":
			cfg.SlippageBps = cmd.Float("slippage-bps")
		}
	}

	if cmd.IsSet("start") {
		cfg.StartTime = cmd.Timestamp("start").UnixMilli()
	}

	if cmd.IsSet("end") || cfg.EndTime == 0 {
		cfg.EndTime = cmd.Timestamp("end").UnixMilli()
	}

	if cmd.Bool("keep-open") {
		cfg.CloseOnFinish = false
	}

	overrides, err := parseParamOverrides(cmd.StringSlice("param"))
	if err != nil {
		return cfg, err
	}

	if cfg.Params == nil {
		cfg.Params = make(map[string]any)
	}

	for k, v := range overrides {
		cfg.Params[k] = v
	}

	return cfg, nil
}

// parseParamOverrides parses repeated key=value flags, coercing values to
// int, float or bool where possible.
func parseParamOverrides(pairs []string) (map[string]any, error) {
	overrides := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "invalid --param %q, expected key=value", pair)
		}

		if i, err := strconv.Atoi(value); err == nil {
			overrides[key] = i
		} else if f, err := strconv.ParseFloat(value, 64); err == nil {
			overrides[key] = f
		} else if b, err := strconv.ParseBool(value); err == nil {
			overrides[key] = b
		} else {
			overrides[key] = value
		}
	}

	return overrides, nil
}

func loadBars(ctx context.Context, cmd *cli.Command, cfg types.RunConfig, log *logger.Logger) ([]types.Bar, error) {
	stepMs, err := types.TimeframeToMs(cfg.Timeframe)
	if err != nil {
		return nil, err
	}

	cachePath := cmd.String("cache")
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, err
	}

	cache, err := marketdata.NewBarCache(cachePath)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	source := marketdata.NewBarSource(cache, marketdata.NewBinanceProvider(), log)

	warmupStart := cfg.StartTime - int64(cfg.WarmupBars)*stepMs

	bars, err := source.LoadRangeBars(ctx, cfg.Symbol, cfg.Timeframe, warmupStart, cfg.EndTime, !cmd.Bool("no-fetch"))
	if err != nil {
		return nil, err
	}

	if err := types.ValidateSeries(bars, stepMs); err != nil {
		return nil, err
	}

	return bars, nil
}

func persistRun(dbPath string, cfg types.RunConfig, schema strategy.Schema, result *engine.Result, log *logger.Logger) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return "", err
	}

	runStore, err := store.NewRunStore(dbPath, log)
	if err != nil {
		return "", err
	}
	defer runStore.Close()

	runID := store.NewRunID()

	bundle := store.RunBundle{
		Run: store.RunRecord{
			RunID:         runID,
			CreatedAt:     time.Now().UnixMilli(),
			StrategyID:    schema.ID,
			StrategyName:  schema.Name,
			Symbol:        cfg.Symbol,
			Timeframe:     cfg.Timeframe,
			StartTime:     cfg.StartTime,
			EndTime:       cfg.EndTime,
			WarmupBars:    cfg.WarmupBars,
			InitialCash:   cfg.InitialCash,
			Leverage:      cfg.Leverage,
			CommissionBps: cfg.CommissionBps,
			SlippageBps:   cfg.SlippageBps,
			Status:        result.Status,
			Params:        cfg.Params,
			ErrorText:     result.Error,
		},
		Orders:       result.Orders,
		Trades:       result.Trades,
		EquityPoints: result.EquityPoints,
		Messages:     result.Logs,
	}

	if err := runStore.InsertCompleteRun(bundle); err != nil {
		return "", err
	}

	return runID, nil
}

func printReport(cmd *cli.Command, runID string, result *engine.Result) {
	rep := report.Build(runID, result.Trades, result.EquityPoints)

	out := cmd.Writer

	fmt.Fprintf(out, "\nRun %s finished with status %s\n", runID, result.Status)

	if result.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", result.Error)
	}

	fmt.Fprintf(out, "Total return:  %.4f%%\n", rep.TotalReturnPct)
	fmt.Fprintf(out, "Max drawdown:  %.4f%%\n", rep.MaxDrawdownPct)
	fmt.Fprintf(out, "Trades:        %d (%d wins / %d losses)\n", rep.TradeCount, rep.WinCount, rep.LossCount)
	fmt.Fprintf(out, "Win rate:      %.2f%%\n", rep.WinRatePct)

	if rep.HasProfitFactor {
		fmt.Fprintf(out, "Profit factor: %.4f\n", rep.ProfitFactor)
	}

	fmt.Fprintf(out, "Total PnL:     %.2f (fees %.2f)\n", rep.TotalPnL, rep.TotalFees)
	fmt.Fprintf(out, "Final equity:  %.2f\n", result.Portfolio.Equity)

	for _, msg := range result.Logs {
		if msg.Level != types.LogLevelInfo {
			fmt.Fprintf(out, "[%s] %s\n", msg.Level, msg.Message)
		}
	}
}
