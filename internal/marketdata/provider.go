package marketdata

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"github.com/halcyonquant/backtest/internal/types"
	"github.com/halcyonquant/backtest/pkg/errors"
)

// fetchPageLimit is the maximum klines per request allowed by the exchange.
const fetchPageLimit = 1000

// Provider fetches OHLCV bars from an external source. Implementations must
// return bars sorted ascending by open time.
type Provider interface {
	FetchBars(ctx context.Context, symbol, timeframe string, from, to int64) ([]types.Bar, error)
}

// KlinesService abstracts the exchange klines endpoint for testing.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(startTime int64) KlinesService
	EndTime(endTime int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

// KlinesClient abstracts the exchange client for testing.
type KlinesClient interface {
	NewKlinesService() KlinesService
}

type realKlinesService struct {
	service *binance.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.service = s.service.Interval(interval)

	return s
}

func (s *realKlinesService) StartTime(startTime int64) KlinesService {
	s.service = s.service.StartTime(startTime)

	return s
}

func (s *realKlinesService) EndTime(endTime int64) KlinesService {
	s.service = s.service.EndTime(endTime)

	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return s.service.Do(ctx)
}

type realKlinesClient struct {
	client *binance.Client
}

func (c *realKlinesClient) NewKlinesService() KlinesService {
	return &realKlinesService{service: c.client.NewKlinesService()}
}

// BinanceProvider fetches historical klines from the Binance public API.
// Market data endpoints need no credentials.
type BinanceProvider struct {
	client KlinesClient
}

// NewBinanceProvider creates a provider backed by the public Binance API.
func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{
		client: &realKlinesClient{client: binance.NewClient("", "")},
	}
}

// newBinanceProviderWithClient is used by tests with a mock client.
func newBinanceProviderWithClient(client KlinesClient) *BinanceProvider {
	return &BinanceProvider{client: client}
}

// FetchBars downloads bars for [from, to] inclusive, paginating through the
// exchange's per-request limit.
func (p *BinanceProvider) FetchBars(ctx context.Context, symbol, timeframe string, from, to int64) ([]types.Bar, error) {
	stepMs, err := types.TimeframeToMs(timeframe)
	if err != nil {
		return nil, err
	}

	var bars []types.Bar

	cursor := from

	for cursor <= to {
		klines, err := p.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			StartTime(cursor).
			EndTime(to).
			Limit(fetchPageLimit).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeFetchFailed, err, "failed to fetch klines for %s %s", symbol, timeframe)
		}

		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			bar, convErr := convertKline(k)
			if convErr != nil {
				return nil, convErr
			}

			if bar.Time > to {
				return bars, nil
			}

			bars = append(bars, bar)
		}

		cursor = klines[len(klines)-1].OpenTime + stepMs
	}

	return bars, nil
}

func convertKline(k *binance.Kline) (types.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeFetchFailed, "invalid kline open price", err)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeFetchFailed, "invalid kline high price", err)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeFetchFailed, "invalid kline low price", err)
	}

	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeFetchFailed, "invalid kline close price", err)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeFetchFailed, "invalid kline volume", err)
	}

	return types.Bar{
		Time:   k.OpenTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}

var _ Provider = (*BinanceProvider)(nil)
