package types

import (
	"github.com/go-playground/validator/v10"

	"github.com/halcyonquant/backtest/pkg/errors"
)

// RunStatus is the lifecycle state of a persisted run. A run is created
// RUNNING and reaches exactly one terminal state, never re-opened.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusDone     RunStatus = "DONE"
	RunStatusError    RunStatus = "ERROR"
	RunStatusCanceled RunStatus = "CANCELED"
)

// DefaultWarmupBars is the number of leading bars loaded before the trading
// window for indicator state-building.
const DefaultWarmupBars = 200

// RunConfig captures every execution assumption of a run. It is immutable
// for the lifetime of the run and persisted verbatim for reproducibility.
type RunConfig struct {
	Symbol    string `yaml:"symbol" json:"symbol" validate:"required"`
	Timeframe string `yaml:"timeframe" json:"timeframe" validate:"required"`
	// StartTime/EndTime bound the trading window, epoch ms.
	StartTime     int64   `yaml:"start_ts" json:"start_ts" validate:"gte=0"`
	EndTime       int64   `yaml:"end_ts" json:"end_ts" validate:"gtefield=StartTime"`
	WarmupBars    int     `yaml:"warmup_bars" json:"warmup_bars" validate:"gte=0"`
	InitialCash   float64 `yaml:"initial_cash" json:"initial_cash" validate:"gt=0"`
	Leverage      float64 `yaml:"leverage" json:"leverage" validate:"gt=0"`
	CommissionBps float64 `yaml:"commission_bps" json:"commission_bps" validate:"gte=0"`
	SlippageBps   float64 `yaml:"slippage_bps" json:"slippage_bps" validate:"gte=0"`
	StrategyID    string  `yaml:"strategy_id" json:"strategy_id" validate:"required"`
	// Params holds the resolved strategy parameter values.
	Params map[string]any `yaml:"params" json:"params"`
	// CloseOnFinish forces a surviving open position closed at normal run end.
	CloseOnFinish bool `yaml:"close_on_finish" json:"close_on_finish"`
}

// Validate validates the RunConfig struct.
func (c *RunConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid run config", err)
	}

	if _, err := TimeframeToMs(c.Timeframe); err != nil {
		return err
	}

	return nil
}

// LogLevel is the severity of a per-run strategy log message.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogMessage is one buffered strategy log entry, persisted with the run
// bundle and consumed by the report.
type LogMessage struct {
	Time    int64    `yaml:"ts" json:"ts"`
	Level   LogLevel `yaml:"level" json:"level"`
	Message string   `yaml:"message" json:"message"`
	// BarTime is the open time of the bar being processed when the message
	// was logged, when known.
	BarTime int64 `yaml:"bar_ts" json:"bar_ts"`
}
