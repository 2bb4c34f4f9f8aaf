// Package cache is the KV cache used by the Data Plane for quotes, candles,
// and indicator series, and by the universe manager for the hot/warm ticker
// sets.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs match the persistence layout's per-key expiry table.
const (
	QuoteHotTTL        = 60 * time.Second
	QuoteWarmTTL       = 300 * time.Second
	IndicatorTTL       = 5 * time.Minute
	CandleTTL1m        = 60 * time.Second
	CandleTTLDaily     = 4 * time.Hour
)

// Cache wraps a Redis client with the typed get/set helpers the Data Plane
// needs, plus the hot/warm ticker-set operations the universe manager uses.
type Cache struct {
	client *redis.Client
}

// New builds a Cache from a redis:// URL.
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func quoteKey(ticker string) string { return "quote:" + ticker }

// SetQuote caches a quote under its ticker with the given TTL (hot or warm).
func (c *Cache) SetQuote(ctx context.Context, ticker string, quote any, ttl time.Duration) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	return c.client.Set(ctx, quoteKey(ticker), data, ttl).Err()
}

// GetQuote reads a cached quote, reporting whether it was present.
func (c *Cache) GetQuote(ctx context.Context, ticker string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, quoteKey(ticker)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get quote: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal quote: %w", err)
	}
	return true, nil
}

func candleKey(timeframe, ticker string) string {
	return fmt.Sprintf("candles:%s:%s", timeframe, ticker)
}

// SetCandles caches a candle series for (timeframe, ticker).
func (c *Cache) SetCandles(ctx context.Context, timeframe, ticker string, candles any, ttl time.Duration) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal candles: %w", err)
	}
	return c.client.Set(ctx, candleKey(timeframe, ticker), data, ttl).Err()
}

// GetCandles reads cached candles for (timeframe, ticker).
func (c *Cache) GetCandles(ctx context.Context, timeframe, ticker string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, candleKey(timeframe, ticker)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get candles: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal candles: %w", err)
	}
	return true, nil
}

func indicatorKey(ticker, timeframe, name, params string) string {
	return fmt.Sprintf("indicators:%s:%s:%s:%s", ticker, timeframe, name, params)
}

// SetIndicator caches a computed indicator series.
func (c *Cache) SetIndicator(ctx context.Context, ticker, timeframe, name, params string, series []float64) error {
	data, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("marshal indicator: %w", err)
	}
	return c.client.Set(ctx, indicatorKey(ticker, timeframe, name, params), data, IndicatorTTL).Err()
}

// GetIndicator reads a cached indicator series.
func (c *Cache) GetIndicator(ctx context.Context, ticker, timeframe, name, params string) ([]float64, bool, error) {
	data, err := c.client.Get(ctx, indicatorKey(ticker, timeframe, name, params)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get indicator: %w", err)
	}
	var series []float64
	if err := json.Unmarshal(data, &series); err != nil {
		return nil, false, fmt.Errorf("unmarshal indicator: %w", err)
	}
	return series, true, nil
}

const (
	hotTickersKey  = "tickers:hot"
	warmTickersKey = "tickers:warm"
)

// SetHotTickers replaces the hot ticker set.
func (c *Cache) SetHotTickers(ctx context.Context, tickers []string) error {
	return c.replaceSet(ctx, hotTickersKey, tickers)
}

// SetWarmTickers replaces the warm ticker set.
func (c *Cache) SetWarmTickers(ctx context.Context, tickers []string) error {
	return c.replaceSet(ctx, warmTickersKey, tickers)
}

// HotTickers returns the current hot ticker set.
func (c *Cache) HotTickers(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, hotTickersKey).Result()
}

// WarmTickers returns the current warm ticker set.
func (c *Cache) WarmTickers(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, warmTickersKey).Result()
}

func (c *Cache) replaceSet(ctx context.Context, key string, members []string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		vals := make([]any, len(members))
		for i, m := range members {
			vals[i] = m
		}
		pipe.SAdd(ctx, key, vals...)
	}
	_, err := pipe.Exec(ctx)
	return err
}
