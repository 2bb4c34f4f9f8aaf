package pipeline

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/pkg/formulas"
)

// StrategyAgent turns a confluence of per-timeframe biases into a directional
// action with an entry, stop-loss, and take-profit derived from ATR.
type StrategyAgent struct{}

// NewStrategyAgent builds a StrategyAgent.
func NewStrategyAgent() *StrategyAgent { return &StrategyAgent{} }

func (a *StrategyAgent) Type() domain.AgentType { return domain.AgentStrategy }

func (a *StrategyAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	if len(state.Biases) == 0 {
		return &domain.InsufficientDataError{Symbol: state.Symbol, Detail: "no bias available to build a strategy on"}
	}

	bullish, bearish := 0, 0
	for _, b := range state.Biases {
		switch b {
		case domain.BiasBullish:
			bullish++
		case domain.BiasBearish:
			bearish++
		}
	}

	minConfluence := 2
	if v, ok := config["min_confluence"].(float64); ok {
		minConfluence = int(v)
	}

	var action domain.StrategyAction
	switch {
	case bullish >= minConfluence && bullish > bearish:
		action = domain.ActionBuy
	case bearish >= minConfluence && bearish > bullish:
		action = domain.ActionSell
	default:
		action = domain.ActionHold
	}

	result := &domain.StrategyResult{
		Action:     action,
		Confidence: confluenceConfidence(bullish, bearish, len(state.Biases)),
	}

	if action != domain.ActionHold && state.MarketData != nil {
		entry := state.MarketData.CurrentPrice
		atrMultiple := 2.0
		if v, ok := config["atr_stop_multiple"].(float64); ok {
			atrMultiple = v
		}
		atr := atrFromAnyTimeframe(state.MarketData.Candles)
		if atr != nil {
			stop, target := stopAndTarget(action, entry, *atr, atrMultiple)
			result.EntryPrice = &entry
			result.StopLoss = &stop
			result.TakeProfit = &target
		}
	}

	state.Strategy = result
	if action == domain.ActionHold {
		return &domain.TriggerNotMet{Agent: domain.AgentStrategy, Detail: "no confluent directional bias"}
	}
	return nil
}

func confluenceConfidence(bullish, bearish, total int) float64 {
	if total == 0 {
		return 0
	}
	winner := bullish
	if bearish > winner {
		winner = bearish
	}
	return float64(winner) / float64(total)
}

func atrFromAnyTimeframe(candlesByTF map[string][]domain.Candle) *float64 {
	for _, candles := range candlesByTF {
		if len(candles) < 15 {
			continue
		}
		highs := make([]float64, len(candles))
		lows := make([]float64, len(candles))
		closes := make([]float64, len(candles))
		for i, c := range candles {
			highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
		}
		if atr := formulas.ATR(highs, lows, closes, 14); atr != nil {
			return atr
		}
	}
	return nil
}

func stopAndTarget(action domain.StrategyAction, entry, atr, multiple float64) (stop, target float64) {
	distance := atr * multiple
	if action == domain.ActionBuy {
		return entry - distance, entry + distance
	}
	return entry + distance, entry - distance
}
