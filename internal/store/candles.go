package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aristath/tradepilot/internal/domain"
)

// Candles is the repository over the raw 1-minute OHLCV rows and the
// materialized higher-timeframe aggregates. Postgres lacks TimescaleDB's
// continuous aggregates in this deployment, so UpsertAggregate recomputes a
// window from the 1m rows the way a manually refreshed materialized view
// would.
type Candles struct {
	db *sqlx.DB
}

// NewCandles builds a Candles repository.
func NewCandles(db *sqlx.DB) *Candles {
	return &Candles{db: db}
}

// UpsertRaw writes 1-minute candles, ignoring rows that already exist.
func (c *Candles) UpsertRaw(ctx context.Context, candles []domain.Candle) error {
	for _, candle := range candles {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO ohlcv (symbol, timeframe, ts, open, high, low, close, volume)
			VALUES ($1, '1m', $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, timeframe, ts) DO NOTHING`,
			candle.Ticker, candle.Timestamp, candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
		if err != nil {
			return fmt.Errorf("upsert raw candle %s@%s: %w", candle.Ticker, candle.Timestamp, err)
		}
	}
	return nil
}

// UpsertDaily writes adjusted daily candles with timeframe 'D', overwriting
// on conflict since EOD providers sometimes revise the day's close.
func (c *Candles) UpsertDaily(ctx context.Context, candles []domain.Candle) error {
	for _, candle := range candles {
		_, err := c.db.ExecContext(ctx, `
			INSERT INTO ohlcv (symbol, timeframe, ts, open, high, low, close, volume)
			VALUES ($1, 'D', $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume`,
			candle.Ticker, candle.Timestamp, candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
		if err != nil {
			return fmt.Errorf("upsert daily candle %s@%s: %w", candle.Ticker, candle.Timestamp, err)
		}
	}
	return nil
}

// Recent returns the most recent limit candles for (symbol, timeframe),
// oldest first.
func (c *Candles) Recent(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	var rows []domain.Candle
	err := c.db.SelectContext(ctx, &rows, `
		SELECT symbol, timeframe, ts AS ts, open, high, low, close, volume FROM (
			SELECT * FROM ohlcv WHERE symbol = $1 AND timeframe = $2
			ORDER BY ts DESC LIMIT $3
		) recent ORDER BY ts ASC`,
		symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("recent candles %s/%s: %w", symbol, timeframe, err)
	}
	return rows, nil
}

// RefreshAggregate recomputes timeframe candles for symbol from the 1m rows
// newer than since, bucketing by the timeframe's bucket size in minutes, and
// upserts the result. This stands in for the time-series store's continuous
// aggregate refresh.
func (c *Candles) RefreshAggregate(ctx context.Context, symbol, timeframe string, bucketMinutes int, since time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ohlcv (symbol, timeframe, ts, open, high, low, close, volume)
		SELECT symbol, $3, bucket,
		       (array_agg(open ORDER BY ts ASC))[1] AS open,
		       max(high) AS high,
		       min(low) AS low,
		       (array_agg(close ORDER BY ts DESC))[1] AS close,
		       sum(volume) AS volume
		FROM (
			SELECT symbol, open, high, low, close, volume, ts,
			       to_timestamp(floor(extract(epoch FROM ts) / ($4 * 60)) * ($4 * 60)) AS bucket
			FROM ohlcv WHERE symbol = $1 AND timeframe = '1m'
		) bucketed
		WHERE bucket >= $2
		GROUP BY symbol, bucket
		ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`,
		symbol, since, timeframe, bucketMinutes)
	if err != nil {
		return fmt.Errorf("refresh aggregate %s/%s: %w", symbol, timeframe, err)
	}
	return nil
}
