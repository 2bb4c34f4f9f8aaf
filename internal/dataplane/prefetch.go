package dataplane

import (
	"context"
	"time"

	"github.com/aristath/tradepilot/internal/domain"
)

// aggregateWindow pairs a materialized timeframe with its bucket size and
// how far back to recompute on every refresh.
type aggregateWindow struct {
	timeframe     string
	bucketMinutes int
	lookback      time.Duration
}

var aggregateWindows = []aggregateWindow{
	{timeframe: "5m", bucketMinutes: 5, lookback: 2 * time.Hour},
	{timeframe: "15m", bucketMinutes: 15, lookback: 6 * time.Hour},
	{timeframe: "1h", bucketMinutes: 60, lookback: 24 * time.Hour},
	{timeframe: "4h", bucketMinutes: 240, lookback: 4 * 24 * time.Hour},
	{timeframe: "D", bucketMinutes: 1440, lookback: 7 * 24 * time.Hour},
}

// PrefetchTicker fetches up to 500 recent 1m candles for symbol, upserts
// them, refreshes every materialized aggregate window, and repopulates the
// KV cache with both the raw and aggregated series.
func (s *Service) PrefetchTicker(ctx context.Context, symbol string) error {
	provider := s.providers.For(assetClassFor(symbol))
	raw, err := fetchWithRetry(ctx, func() ([]domain.Candle, error) {
		return provider.GetCandles(ctx, symbol, "1m", 500)
	})
	if err != nil {
		return err
	}

	if err := s.candles.UpsertRaw(ctx, raw); err != nil {
		return err
	}
	s.cacheCandles(ctx, symbol, "1m", raw)

	now := time.Now()
	for _, window := range aggregateWindows {
		if err := s.candles.RefreshAggregate(ctx, symbol, window.timeframe, window.bucketMinutes, now.Add(-window.lookback)); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", window.timeframe).Msg("aggregate refresh failed")
			continue
		}
		aggregated, err := s.candles.Recent(ctx, symbol, window.timeframe, 500)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", window.timeframe).Msg("aggregate read-back failed")
			continue
		}
		s.cacheCandles(ctx, symbol, window.timeframe, aggregated)
	}
	return nil
}

// BackfillDaily fetches 400 adjusted daily candles per ticker and persists
// them with timeframe 'D', giving indicators like SMA(200) deep history.
// Daily reads elsewhere merge this with the forming bar from the aggregate.
func (s *Service) BackfillDaily(ctx context.Context, symbol string) error {
	provider := s.providers.For(assetClassFor(symbol))
	daily, err := fetchWithRetry(ctx, func() ([]domain.Candle, error) {
		return provider.GetCandles(ctx, symbol, "D", 400)
	})
	if err != nil {
		return err
	}
	return s.candles.UpsertDaily(ctx, daily)
}
