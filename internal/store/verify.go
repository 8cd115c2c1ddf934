package store

import (
	"fmt"
	"math"

	"github.com/Masterminds/squirrel"

	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// VerifyStats summarizes what the verifier saw for one run.
type VerifyStats struct {
	RunID          string
	Status         types.RunStatus
	StartTime      int64
	EndTime        int64
	WarmupStartTS  int64
	EquityRows     int
	OrderRows      int
	TradeRows      int
	MessageRows    int
	EquityMinTS    int64
	EquityMaxTS    int64
	BadDrawdowns   int
	NonFiniteCount int
}

// VerifyReport is the result of a post-hoc run integrity check.
type VerifyReport struct {
	OK     bool
	Issues []string
	Stats  VerifyStats
}

// Verify runs a lightweight integrity check over a persisted run to catch
// partial or corrupt bundles, e.g. from a crash mid-persist. It is a debug
// tool, not part of the normal read path.
func (s *RunStore) Verify(runID string) (*VerifyReport, error) {
	if runID == "" {
		return nil, errors.New(errors.ErrCodeRunNotFound, "verify requires a run id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	report := &VerifyReport{Stats: VerifyStats{RunID: runID}}

	var (
		status     string
		timeframe  string
		warmupBars int
	)

	err := s.sq.
		Select("status", "start_ts", "end_ts", "warmup_bars", "timeframe").
		From("strategy_runs").
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(s.db).
		QueryRow().
		Scan(&status, &report.Stats.StartTime, &report.Stats.EndTime, &warmupBars, &timeframe)
	if err != nil {
		report.Issues = append(report.Issues, "run row missing or unreadable")

		return report, nil
	}

	report.Stats.Status = types.RunStatus(status)

	stepMs, tfErr := types.TimeframeToMs(timeframe)
	if tfErr != nil {
		stepMs = 60_000
	}

	report.Stats.WarmupStartTS = report.Stats.StartTime - int64(warmupBars)*stepMs

	report.Stats.EquityRows = s.countRows("strategy_equity", runID)
	report.Stats.OrderRows = s.countRows("strategy_orders", runID)
	report.Stats.TradeRows = s.countRows("strategy_trades", runID)
	report.Stats.MessageRows = s.countRows("strategy_messages", runID)

	if (report.Stats.Status == types.RunStatusDone || report.Stats.Status == types.RunStatusCanceled) &&
		report.Stats.EquityRows <= 0 {
		report.Issues = append(report.Issues, "equity rows == 0 for completed run")
	}

	if report.Stats.EquityRows > 0 {
		s.verifyEquity(runID, report)
	}

	s.verifyOrders(runID, report)
	s.verifyTrades(runID, report)

	report.OK = len(report.Issues) == 0

	return report, nil
}

func (s *RunStore) countRows(table, runID string) int {
	var count int

	err := s.sq.
		Select("COUNT(1)").
		From(table).
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(s.db).
		QueryRow().
		Scan(&count)
	if err != nil {
		return -1
	}

	return count
}

// verifyEquity checks the persisted equity curve: strictly increasing
// timestamps within [warmup_start, end_ts], finite values, drawdown in
// [0, 1].
func (s *RunStore) verifyEquity(runID string, report *VerifyReport) {
	rows, err := s.sq.
		Select("ts", "equity", "drawdown").
		From("strategy_equity").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("ts ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		report.Issues = append(report.Issues, "failed to read equity rows")

		return
	}
	defer rows.Close()

	var (
		prevTS  int64
		first   = true
		ordered = true
	)

	for rows.Next() {
		var ts int64

		var equity, drawdown float64

		if err := rows.Scan(&ts, &equity, &drawdown); err != nil {
			report.Issues = append(report.Issues, "unreadable equity row")

			return
		}

		if first {
			report.Stats.EquityMinTS = ts
			first = false
		} else if ordered && ts <= prevTS {
			report.Issues = append(report.Issues, "equity ts not strictly increasing")
			ordered = false
		}

		prevTS = ts
		report.Stats.EquityMaxTS = ts

		if math.IsNaN(equity) || math.IsInf(equity, 0) {
			report.Stats.NonFiniteCount++
		}

		if math.IsNaN(drawdown) || math.IsInf(drawdown, 0) {
			report.Stats.NonFiniteCount++
		} else if drawdown < 0 || drawdown > 1 {
			report.Stats.BadDrawdowns++
		}
	}

	if report.Stats.EquityMinTS < report.Stats.WarmupStartTS {
		report.Issues = append(report.Issues, "equity ts before warmup start")
	}

	if report.Stats.EquityMaxTS > report.Stats.EndTime {
		report.Issues = append(report.Issues, "equity ts after end_ts")
	}

	if report.Stats.BadDrawdowns > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("equity drawdown out of range (count=%d)", report.Stats.BadDrawdowns))
	}

	if report.Stats.NonFiniteCount > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("equity non-finite values (count=%d)", report.Stats.NonFiniteCount))
	}
}

func (s *RunStore) verifyOrders(runID string, report *VerifyReport) {
	var bad int

	err := s.sq.
		Select("COUNT(1)").
		From("strategy_orders").
		Where(squirrel.Eq{"run_id": runID}).
		Where("submitted_ts IS NULL OR side IS NULL OR size IS NULL OR status IS NULL").
		RunWith(s.db).
		QueryRow().
		Scan(&bad)
	if err != nil {
		report.Issues = append(report.Issues, "failed to check order rows")

		return
	}

	if bad > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("orders missing required fields (count=%d)", bad))
	}
}

func (s *RunStore) verifyTrades(runID string, report *VerifyReport) {
	var bad int

	err := s.sq.
		Select("COUNT(1)").
		From("strategy_trades").
		Where(squirrel.Eq{"run_id": runID}).
		Where("side IS NULL OR size IS NULL OR entry_ts IS NULL OR entry_price IS NULL" +
			" OR exit_ts IS NULL OR exit_price IS NULL OR pnl IS NULL OR fee_total IS NULL").
		RunWith(s.db).
		QueryRow().
		Scan(&bad)
	if err != nil {
		report.Issues = append(report.Issues, "failed to check trade rows")

		return
	}

	if bad > 0 {
		report.Issues = append(report.Issues, fmt.Sprintf("trades missing required fields (count=%d)", bad))
	}
}
