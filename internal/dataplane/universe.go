package dataplane

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/cache"
)

// Universe refreshes the hot/warm ticker sets the prefetch task iterates
// over, derived from every active pipeline's scanner universe. Its two
// sweeps are driven by the job queue's scheduler (universe_refresh,
// candle_prefetch) rather than owning their own goroutine loops, the same
// arrangement housekeeping's sweeps use.
type Universe struct {
	db    *sqlx.DB
	cache *cache.Cache
	data  *Service
	log   zerolog.Logger
}

// NewUniverse builds a Universe manager. data may be nil if only Refresh
// (not PrefetchHotTickers) will be used, e.g. in tests.
func NewUniverse(db *sqlx.DB, cache *cache.Cache, data *Service, log zerolog.Logger) *Universe {
	return &Universe{db: db, cache: cache, data: data, log: log.With().Str("component", "universe").Logger()}
}

// Refresh recomputes tickers:hot (every active pipeline's scanners) and
// tickers:warm (the same set today, since this deployment has no separate
// "rarely checked" tier yet — both sets exist so the prefetch task can scale
// differently per tier later without a schema change).
func (u *Universe) Refresh(ctx context.Context) error {
	var tickers pq.StringArray
	err := u.db.GetContext(ctx, &tickers, `
		SELECT coalesce(array_agg(DISTINCT t), '{}') FROM (
			SELECT unnest(s.symbol_universe) AS t
			FROM scanners s
			JOIN pipelines p ON p.id = s.pipeline_id
			WHERE p.is_active AND s.enabled
		) all_tickers`)
	if err != nil {
		return fmt.Errorf("load universe tickers: %w", err)
	}

	if err := u.cache.SetHotTickers(ctx, []string(tickers)); err != nil {
		return fmt.Errorf("set hot tickers: %w", err)
	}
	if err := u.cache.SetWarmTickers(ctx, []string(tickers)); err != nil {
		return fmt.Errorf("set warm tickers: %w", err)
	}
	u.log.Debug().Int("count", len(tickers)).Msg("universe refreshed")
	return nil
}

// PrefetchHotTickers refreshes the candle/indicator cache for every hot
// ticker, skipping any ticker whose fetch fails rather than blocking the
// rest of the sweep.
func (u *Universe) PrefetchHotTickers(ctx context.Context) error {
	tickers, err := u.cache.HotTickers(ctx)
	if err != nil {
		return fmt.Errorf("load hot tickers for prefetch sweep: %w", err)
	}
	for _, symbol := range tickers {
		if err := u.data.PrefetchTicker(ctx, symbol); err != nil {
			u.log.Warn().Err(err).Str("symbol", symbol).Msg("prefetch failed")
		}
	}
	return nil
}
