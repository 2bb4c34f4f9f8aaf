package di

import (
	"context"
	"time"

	"github.com/aristath/tradepilot/internal/modules/market_hours"
	"github.com/aristath/tradepilot/internal/trademanager"
)

// defaultExchange is the calendar used for every symbol until pipelines carry
// a per-symbol exchange/asset-class registry; it mirrors dataplane's
// assetClassFor placeholder ("treat everything as equity").
const defaultExchange = "NYSE"

// calendarMarketHours adapts the exchange-calendar checker to
// trademanager.MarketHours, the interface the Execute phase consults before
// placing an opening order.
type calendarMarketHours struct {
	svc *market_hours.MarketHoursService
}

// newCalendarMarketHours builds a calendarMarketHours backed by a fresh
// holiday cache.
func newCalendarMarketHours() trademanager.MarketHours {
	return &calendarMarketHours{svc: market_hours.NewMarketHoursService()}
}

// IsOpen always checks the equity calendar for defaultExchange; forex and
// crypto pipelines should override MarketHours at the pipeline config level
// once a per-symbol asset class is wired.
func (c *calendarMarketHours) IsOpen(ctx context.Context, symbol string) (bool, error) {
	return c.svc.IsOpenForAssetClass(market_hours.AssetClassEquity, defaultExchange, time.Now()), nil
}
