package pipeline

import (
	"context"
	"fmt"

	"github.com/aristath/tradepilot/internal/dataplane"
	"github.com/aristath/tradepilot/internal/domain"
)

// defaultTimeframes is used when a pipeline config names none explicitly.
var defaultTimeframes = []string{"5m", "1h", "D"}

// MarketDataAgent populates PipelineState.MarketData from the Data Plane.
// It never fabricates data: a fetch failure fails the execution outright.
type MarketDataAgent struct {
	data *dataplane.Service
}

// NewMarketDataAgent builds a MarketDataAgent.
func NewMarketDataAgent(data *dataplane.Service) *MarketDataAgent {
	return &MarketDataAgent{data: data}
}

func (a *MarketDataAgent) Type() domain.AgentType { return domain.AgentMarketData }

func (a *MarketDataAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	timeframes := timeframesFrom(config)

	quote, err := a.data.GetQuote(ctx, state.Symbol, true)
	if err != nil {
		return fmt.Errorf("fetch quote for %s: %w", state.Symbol, err)
	}

	snapshot := &domain.MarketDataSnapshot{
		CurrentPrice: quote.CurrentPrice,
		Bid:          quote.Bid,
		Ask:          quote.Ask,
		Candles:      make(map[string][]domain.Candle, len(timeframes)),
	}
	for _, tf := range timeframes {
		candles, err := a.data.GetCandles(ctx, state.Symbol, tf, 500)
		if err != nil {
			return fmt.Errorf("fetch %s candles for %s: %w", tf, state.Symbol, err)
		}
		if len(candles) == 0 {
			return &domain.InsufficientDataError{Symbol: state.Symbol, Detail: fmt.Sprintf("no %s candles available", tf)}
		}
		snapshot.Candles[tf] = candles
	}

	state.MarketData = snapshot
	return nil
}

// timeframesFrom reads the de-duplicated "timeframes" list from config,
// falling back to defaults. Executor.Run merges every agent's timeframes
// into the market data agent's config before calling it.
func timeframesFrom(config map[string]any) []string {
	raw, ok := config["timeframes"].([]any)
	if !ok || len(raw) == 0 {
		return defaultTimeframes
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return defaultTimeframes
	}
	return out
}
