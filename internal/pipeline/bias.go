package pipeline

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/pkg/formulas"
)

// BiasAgent assigns a directional bias per fetched timeframe by comparing
// price against a trend SMA and confirming with RSI.
type BiasAgent struct{}

// NewBiasAgent builds a BiasAgent.
func NewBiasAgent() *BiasAgent { return &BiasAgent{} }

func (a *BiasAgent) Type() domain.AgentType { return domain.AgentBias }

func (a *BiasAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	if state.MarketData == nil {
		return &domain.InsufficientDataError{Symbol: state.Symbol, Detail: "market data not fetched"}
	}
	period := 20
	if v, ok := config["sma_period"].(float64); ok {
		period = int(v)
	}

	biases := make(map[string]domain.Bias, len(state.MarketData.Candles))
	for tf, candles := range state.MarketData.Candles {
		closes := closesOf(candles)
		sma := formulas.CalculateSMA(closes, period)
		rsi := formulas.RSI(closes, 14)
		if sma == nil || rsi == nil {
			biases[tf] = domain.BiasNeutral
			continue
		}
		last := closes[len(closes)-1]
		switch {
		case last > *sma && *rsi > 50:
			biases[tf] = domain.BiasBullish
		case last < *sma && *rsi < 50:
			biases[tf] = domain.BiasBearish
		default:
			biases[tf] = domain.BiasNeutral
		}
	}

	if len(biases) == 0 {
		return &domain.TriggerNotMet{Agent: domain.AgentBias, Detail: "no timeframes available to assess bias"}
	}
	state.Biases = biases
	return nil
}

func closesOf(candles []domain.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
