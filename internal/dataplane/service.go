// Package dataplane serves low-latency quote, candle, and indicator reads
// to every other component, backed by a KV cache with a Postgres fallback
// and pluggable upstream providers.
package dataplane

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/cache"
	"github.com/aristath/tradepilot/internal/clients/providers"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/store"
)

// Service is the Data Plane's read surface.
type Service struct {
	cache     *cache.Cache
	candles   *store.Candles
	providers *providers.Registry
	log       zerolog.Logger
}

// New builds a Service.
func New(cache *cache.Cache, candles *store.Candles, registry *providers.Registry, log zerolog.Logger) *Service {
	return &Service{cache: cache, candles: candles, providers: registry, log: log.With().Str("component", "dataplane").Logger()}
}

// assetClassFor is a placeholder symbol classifier; production wiring would
// resolve this from the scanner/pipeline config that requested the symbol.
func assetClassFor(symbol string) string {
	return "equity"
}

// GetQuote returns a cached quote if fresh, otherwise fetches from the
// symbol's provider with retry and repopulates the cache. hot selects the
// 60s TTL over the 300s warm TTL.
func (s *Service) GetQuote(ctx context.Context, symbol string, hot bool) (*domain.Quote, error) {
	var quote domain.Quote
	found, err := s.cache.GetQuote(ctx, symbol, &quote)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache read failed, falling back to provider")
	}
	if found {
		return &quote, nil
	}

	provider := s.providers.For(assetClassFor(symbol))
	fresh, err := fetchWithRetry(ctx, func() (*domain.Quote, error) {
		return provider.GetQuote(ctx, symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}

	ttl := cache.QuoteWarmTTL
	if hot {
		ttl = cache.QuoteHotTTL
	}
	if err := s.cache.SetQuote(ctx, symbol, fresh, ttl); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("quote cache write failed")
	}
	return fresh, nil
}

// GetCandles returns the most recent limit complete candles for
// (symbol, timeframe), oldest first, preferring the cache, then the store,
// and finally the provider.
func (s *Service) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	var cached []domain.Candle
	found, err := s.cache.GetCandles(ctx, timeframe, symbol, &cached)
	if err == nil && found && len(cached) >= limit {
		return cached[len(cached)-limit:], nil
	}

	rows, err := s.candles.Recent(ctx, symbol, timeframe, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).Msg("candle store read failed, falling back to provider")
	}
	if len(rows) >= limit {
		s.cacheCandles(ctx, symbol, timeframe, rows)
		return rows, nil
	}

	provider := s.providers.For(assetClassFor(symbol))
	fetched, err := fetchWithRetry(ctx, func() ([]domain.Candle, error) {
		return provider.GetCandles(ctx, symbol, timeframe, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s/%s: %w", symbol, timeframe, err)
	}
	s.cacheCandles(ctx, symbol, timeframe, fetched)
	return fetched, nil
}

func (s *Service) cacheCandles(ctx context.Context, symbol, timeframe string, candles []domain.Candle) {
	ttl := cache.CandleTTLDaily
	if timeframe == "1m" {
		ttl = cache.CandleTTL1m
	}
	if err := s.cache.SetCandles(ctx, timeframe, symbol, candles, ttl); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("candle cache write failed")
	}
}

// fetchWithRetry retries a synchronous provider fetch up to 3 attempts with
// 1s/2s/4s backoff, matching the executor's synchronous quote-fetch contract.
func fetchWithRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < 2 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
			backoff *= 2
		}
	}
	return zero, lastErr
}
