package marketdata

import (
	"database/sql"
	"sync"

	"github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// barInsertBatchSize bounds rows per insert statement when persisting
// fetched history.
const barInsertBatchSize = 5000

// BarCache is a local SQLite cache of OHLCV bars, keyed by
// (symbol, timeframe, open time). Fetched history is upserted so repeated
// backfills of overlapping ranges stay idempotent.
type BarCache struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
	mu sync.Mutex
}

// NewBarCache opens (or creates) the bar cache at path. Use ":memory:" for
// an ephemeral cache.
func NewBarCache(path string) (*BarCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to open bar cache", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to set pragmas", err)
	}

	c := &BarCache{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := c.ensureSchema(); err != nil {
		db.Close()

		return nil, err
	}

	return c, nil
}

// Close releases the underlying database handle.
func (c *BarCache) Close() error {
	return c.db.Close()
}

func (c *BarCache) ensureSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS ohlcv_bars (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			ts INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			PRIMARY KEY (symbol, timeframe, ts)
		)`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreOpenFailed, "failed to create bar cache schema", err)
	}

	return nil
}

// UpsertBars writes bars into the cache, replacing any rows already present
// for the same open time.
func (c *BarCache) UpsertBars(symbol, timeframe string, bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to begin transaction", err)
	}

	for start := 0; start < len(bars); start += barInsertBatchSize {
		end := start + barInsertBatchSize
		if end > len(bars) {
			end = len(bars)
		}

		query := c.sq.
			Insert("ohlcv_bars").
			Options("OR REPLACE").
			Columns("symbol", "timeframe", "ts", "open", "high", "low", "close", "volume")

		for _, bar := range bars[start:end] {
			query = query.Values(symbol, timeframe, bar.Time, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		}

		if _, err := query.RunWith(tx).Exec(); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to upsert bars", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeStoreWriteFailed, "failed to commit bars", err)
	}

	return nil
}

// QueryRange returns cached bars with open time in [from, to] inclusive,
// sorted ascending.
func (c *BarCache) QueryRange(symbol, timeframe string, from, to int64) ([]types.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.sq.
		Select("ts", "open", "high", "low", "close", "volume").
		From("ohlcv_bars").
		Where(squirrel.Eq{"symbol": symbol, "timeframe": timeframe}).
		Where(squirrel.GtOrEq{"ts": from}).
		Where(squirrel.LtOrEq{"ts": to}).
		OrderBy("ts ASC").
		RunWith(c.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	var bars []types.Bar

	for rows.Next() {
		var bar types.Bar

		if err := rows.Scan(&bar.Time, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar row", err)
		}

		bars = append(bars, bar)
	}

	return bars, rows.Err()
}
