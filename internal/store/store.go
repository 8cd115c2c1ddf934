package store

import (
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// equityBatchSize bounds the number of equity rows inserted per statement.
// Equity curves can be large; batching keeps memory flat during persistence.
const equityBatchSize = 20000

// RunRecord is one row of strategy_runs: the identity and configuration of
// a completed run.
type RunRecord struct {
	RunID         string
	CreatedAt     int64
	StrategyID    string
	StrategyName  string
	Symbol        string
	Timeframe     string
	StartTime     int64
	EndTime       int64
	WarmupBars    int
	InitialCash   float64
	Leverage      float64
	CommissionBps float64
	SlippageBps   float64
	Status        types.RunStatus
	Params        map[string]any
	ErrorText     string
}

// RunSummary is the compact listing row returned by ListRecentRuns.
type RunSummary struct {
	RunID     string
	CreatedAt int64
	Status    types.RunStatus
	StartTime int64
	EndTime   int64
}

// RunBundle is everything a run produces, loaded back as one unit.
type RunBundle struct {
	Run          RunRecord
	Orders       []types.Order
	Trades       []types.Trade
	EquityPoints []types.EquityPoint
	Messages     []types.LogMessage
}

// RunStore persists completed runs to SQLite. A run is written in a single
// transaction so a crash mid-persist never leaves a partial run behind.
type RunStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
	mu     sync.Mutex
}

// NewRunStore opens (or creates) the run database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewRunStore(path string, log *logger.Logger) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to open run database", err)
	}

	// WAL keeps readers unblocked during the bulk insert at run finish.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to set pragmas", err)
	}

	s := &RunStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.ensureSchema(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

func (s *RunStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS strategy_runs (
			run_id TEXT PRIMARY KEY,
			created_at INTEGER,
			strategy_id TEXT,
			strategy_name TEXT,
			symbol TEXT,
			timeframe TEXT,
			start_ts INTEGER,
			end_ts INTEGER,
			warmup_bars INTEGER,
			initial_cash REAL,
			leverage REAL,
			commission_bps REAL,
			slippage_bps REAL,
			status TEXT,
			params_json TEXT,
			error_text TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			submitted_ts INTEGER,
			fill_ts INTEGER,
			side TEXT,
			size REAL,
			fill_price REAL,
			fee REAL,
			status TEXT,
			reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			side TEXT,
			size REAL,
			entry_ts INTEGER,
			entry_price REAL,
			exit_ts INTEGER,
			exit_price REAL,
			pnl REAL,
			fee_total REAL,
			bars_held INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			ts INTEGER,
			equity REAL,
			drawdown REAL,
			position_size REAL,
			price REAL
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			ts INTEGER,
			level TEXT,
			message TEXT,
			bar_ts INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_equity_run_ts ON strategy_equity (run_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_orders_run_ts ON strategy_orders (run_id, submitted_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_trades_run_ts ON strategy_trades (run_id, entry_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_msgs_run_ts ON strategy_messages (run_id, ts)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to create schema", err)
		}
	}

	return nil
}

// InsertCompleteRun atomically persists a finished run: the run row plus all
// its orders, trades, equity points and messages in a single transaction.
func (s *RunStore) InsertCompleteRun(bundle RunBundle) error {
	if bundle.Run.RunID == "" {
		return errors.New(errors.ErrCodeInvalidRunRecord, "run record requires a run id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	if err := s.insertRunTx(tx, bundle.Run); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.insertOrdersTx(tx, bundle.Run.RunID, bundle.Orders); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.insertTradesTx(tx, bundle.Run.RunID, bundle.Trades); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.insertEquityTx(tx, bundle.Run.RunID, bundle.EquityPoints); err != nil {
		tx.Rollback()

		return err
	}

	if err := s.insertMessagesTx(tx, bundle.Run.RunID, bundle.Messages); err != nil {
		tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit run bundle", err)
	}

	s.logger.Debug("run persisted",
		zap.String("run_id", bundle.Run.RunID),
		zap.Int("orders", len(bundle.Orders)),
		zap.Int("trades", len(bundle.Trades)),
		zap.Int("equity_points", len(bundle.EquityPoints)),
	)

	return nil
}

func (s *RunStore) insertRunTx(tx *sql.Tx, run RunRecord) error {
	paramsJSON := "{}"

	if run.Params != nil {
		raw, err := json.Marshal(run.Params)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidRunRecord, "failed to encode run params", err)
		}

		paramsJSON = string(raw)
	}

	query := s.sq.
		Insert("strategy_runs").
		Columns(
			"run_id", "created_at", "strategy_id", "strategy_name",
			"symbol", "timeframe", "start_ts", "end_ts", "warmup_bars",
			"initial_cash", "leverage", "commission_bps", "slippage_bps",
			"status", "params_json", "error_text",
		).
		Values(
			run.RunID, run.CreatedAt, run.StrategyID, run.StrategyName,
			run.Symbol, run.Timeframe, run.StartTime, run.EndTime, run.WarmupBars,
			run.InitialCash, run.Leverage, run.CommissionBps, run.SlippageBps,
			string(run.Status), paramsJSON, run.ErrorText,
		).
		RunWith(tx)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert run row", err)
	}

	return nil
}

func (s *RunStore) insertOrdersTx(tx *sql.Tx, runID string, orders []types.Order) error {
	if len(orders) == 0 {
		return nil
	}

	query := s.sq.
		Insert("strategy_orders").
		Columns("run_id", "submitted_ts", "fill_ts", "side", "size", "fill_price", "fee", "status", "reason")

	for _, o := range orders {
		query = query.Values(
			runID, o.SubmittedAt,
			nullableInt64(o.FillTime), string(o.Side), o.Size,
			nullableFloat64(o.FillPrice), nullableFloat64(o.Fee),
			string(o.Status), nullableString(o.Reason),
		)
	}

	if _, err := query.RunWith(tx).Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert orders", err)
	}

	return nil
}

func (s *RunStore) insertTradesTx(tx *sql.Tx, runID string, trades []types.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	query := s.sq.
		Insert("strategy_trades").
		Columns("run_id", "side", "size", "entry_ts", "entry_price", "exit_ts", "exit_price", "pnl", "fee_total", "bars_held")

	for _, t := range trades {
		query = query.Values(
			runID, string(t.Side), t.Size,
			t.EntryTime, t.EntryPrice, t.ExitTime, t.ExitPrice,
			t.PnL, t.FeeTotal, t.BarsHeld,
		)
	}

	if _, err := query.RunWith(tx).Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert trades", err)
	}

	return nil
}

func (s *RunStore) insertEquityTx(tx *sql.Tx, runID string, points []types.EquityPoint) error {
	for start := 0; start < len(points); start += equityBatchSize {
		end := start + equityBatchSize
		if end > len(points) {
			end = len(points)
		}

		query := s.sq.
			Insert("strategy_equity").
			Columns("run_id", "ts", "equity", "drawdown", "position_size", "price")

		for _, p := range points[start:end] {
			query = query.Values(runID, p.Time, p.Equity, p.Drawdown, p.PositionSize, p.Price)
		}

		if _, err := query.RunWith(tx).Exec(); err != nil {
			return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert equity points", err)
		}
	}

	return nil
}

func (s *RunStore) insertMessagesTx(tx *sql.Tx, runID string, messages []types.LogMessage) error {
	if len(messages) == 0 {
		return nil
	}

	query := s.sq.
		Insert("strategy_messages").
		Columns("run_id", "ts", "level", "message", "bar_ts")

	for _, m := range messages {
		query = query.Values(runID, m.Time, string(m.Level), m.Message, m.BarTime)
	}

	if _, err := query.RunWith(tx).Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to insert messages", err)
	}

	return nil
}

// ListRecentRuns returns the most recent runs for a (symbol, timeframe,
// strategy) triple, newest first.
func (s *RunStore) ListRecentRuns(symbol, timeframe, strategyID string, limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.sq.
		Select("run_id", "created_at", "status", "start_ts", "end_ts").
		From("strategy_runs").
		Where(squirrel.Eq{"symbol": symbol, "timeframe": timeframe, "strategy_id": strategyID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to list runs", err)
	}
	defer rows.Close()

	var summaries []RunSummary

	for rows.Next() {
		var summary RunSummary

		var status string

		if err := rows.Scan(&summary.RunID, &summary.CreatedAt, &status, &summary.StartTime, &summary.EndTime); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan run row", err)
		}

		summary.Status = types.RunStatus(status)
		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

// LatestRunFor returns the most recent run id for a (symbol, timeframe,
// strategy) triple, or None when no run exists.
func (s *RunStore) LatestRunFor(symbol, timeframe, strategyID string) (optional.Option[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runID string

	err := s.sq.
		Select("run_id").
		From("strategy_runs").
		Where(squirrel.Eq{"symbol": symbol, "timeframe": timeframe, "strategy_id": strategyID}).
		OrderBy("created_at DESC").
		Limit(1).
		RunWith(s.db).
		QueryRow().
		Scan(&runID)
	if err == sql.ErrNoRows {
		return optional.None[string](), nil
	}

	if err != nil {
		return optional.None[string](), errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to query latest run", err)
	}

	return optional.Some(runID), nil
}

// LoadRunBundle loads a persisted run with all of its rows.
func (s *RunStore) LoadRunBundle(runID string) (*RunBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.loadRunRecord(runID)
	if err != nil {
		return nil, err
	}

	bundle := &RunBundle{Run: run}

	if bundle.Orders, err = s.loadOrders(runID); err != nil {
		return nil, err
	}

	if bundle.Trades, err = s.loadTrades(runID); err != nil {
		return nil, err
	}

	if bundle.EquityPoints, err = s.loadEquity(runID); err != nil {
		return nil, err
	}

	if bundle.Messages, err = s.loadMessages(runID); err != nil {
		return nil, err
	}

	return bundle, nil
}

func (s *RunStore) loadRunRecord(runID string) (RunRecord, error) {
	var run RunRecord

	var status, paramsJSON string

	err := s.sq.
		Select(
			"run_id", "created_at", "strategy_id", "strategy_name",
			"symbol", "timeframe", "start_ts", "end_ts", "warmup_bars",
			"initial_cash", "leverage", "commission_bps", "slippage_bps",
			"status", "params_json", "error_text",
		).
		From("strategy_runs").
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(s.db).
		QueryRow().
		Scan(
			&run.RunID, &run.CreatedAt, &run.StrategyID, &run.StrategyName,
			&run.Symbol, &run.Timeframe, &run.StartTime, &run.EndTime, &run.WarmupBars,
			&run.InitialCash, &run.Leverage, &run.CommissionBps, &run.SlippageBps,
			&status, &paramsJSON, &run.ErrorText,
		)
	if err == sql.ErrNoRows {
		return run, errors.Newf(errors.ErrCodeRunNotFound, "run %q not found", runID)
	}

	if err != nil {
		return run, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to load run row", err)
	}

	run.Status = types.RunStatus(status)

	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
			return run, errors.Wrap(errors.ErrCodeBundleCorrupt, "failed to decode run params", err)
		}
	}

	return run, nil
}

func (s *RunStore) loadOrders(runID string) ([]types.Order, error) {
	rows, err := s.sq.
		Select("submitted_ts", "fill_ts", "side", "size", "fill_price", "fee", "status", "reason").
		From("strategy_orders").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("submitted_ts ASC", "id ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to load orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var o types.Order

		var (
			fillTS    sql.NullInt64
			fillPrice sql.NullFloat64
			fee       sql.NullFloat64
			status    string
			side      string
			reason    sql.NullString
		)

		if err := rows.Scan(&o.SubmittedAt, &fillTS, &side, &o.Size, &fillPrice, &fee, &status, &reason); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan order row", err)
		}

		o.Side = types.Side(side)
		o.Status = types.OrderStatus(status)

		if fillTS.Valid {
			o.FillTime = optional.Some(fillTS.Int64)
		}

		if fillPrice.Valid {
			o.FillPrice = optional.Some(fillPrice.Float64)
		}

		if fee.Valid {
			o.Fee = optional.Some(fee.Float64)
		}

		if reason.Valid && reason.String != "" {
			o.Reason = optional.Some(reason.String)
		}

		orders = append(orders, o)
	}

	return orders, rows.Err()
}

func (s *RunStore) loadTrades(runID string) ([]types.Trade, error) {
	rows, err := s.sq.
		Select("side", "size", "entry_ts", "entry_price", "exit_ts", "exit_price", "pnl", "fee_total", "bars_held").
		From("strategy_trades").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("entry_ts ASC", "id ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to load trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var t types.Trade

		var side string

		if err := rows.Scan(&side, &t.Size, &t.EntryTime, &t.EntryPrice, &t.ExitTime, &t.ExitPrice, &t.PnL, &t.FeeTotal, &t.BarsHeld); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan trade row", err)
		}

		t.Side = types.PositionSide(side)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

func (s *RunStore) loadEquity(runID string) ([]types.EquityPoint, error) {
	rows, err := s.sq.
		Select("ts", "equity", "drawdown", "position_size", "price").
		From("strategy_equity").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("ts ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to load equity points", err)
	}
	defer rows.Close()

	var points []types.EquityPoint

	for rows.Next() {
		var p types.EquityPoint

		if err := rows.Scan(&p.Time, &p.Equity, &p.Drawdown, &p.PositionSize, &p.Price); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan equity row", err)
		}

		points = append(points, p)
	}

	return points, rows.Err()
}

func (s *RunStore) loadMessages(runID string) ([]types.LogMessage, error) {
	rows, err := s.sq.
		Select("ts", "level", "message", "bar_ts").
		From("strategy_messages").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("ts ASC", "id ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to load messages", err)
	}
	defer rows.Close()

	var messages []types.LogMessage

	for rows.Next() {
		var m types.LogMessage

		var level string

		if err := rows.Scan(&m.Time, &level, &m.Message, &m.BarTime); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "failed to scan message row", err)
		}

		m.Level = types.LogLevel(level)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func nullableInt64(v optional.Option[int64]) any {
	if v.IsSome() {
		return v.Unwrap()
	}

	return nil
}

func nullableFloat64(v optional.Option[float64]) any {
	if v.IsSome() {
		return v.Unwrap()
	}

	return nil
}

func nullableString(v optional.Option[string]) any {
	if v.IsSome() {
		return v.Unwrap()
	}

	return nil
}
