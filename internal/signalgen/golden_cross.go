package signalgen

import (
	"fmt"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/pkg/formulas"
)

// GoldenCrossDetector fires when a fast SMA crosses above a slow SMA.
type GoldenCrossDetector struct {
	FastPeriod int
	SlowPeriod int
}

// NewGoldenCrossDetector builds a detector with the classic 50/200 periods
// unless overridden.
func NewGoldenCrossDetector() *GoldenCrossDetector {
	return &GoldenCrossDetector{FastPeriod: 50, SlowPeriod: 200}
}

func (d *GoldenCrossDetector) Type() domain.SignalType { return domain.SignalGoldenCross }

func (d *GoldenCrossDetector) Evaluate(ticker string, candles []domain.Candle, config map[string]any) (*domain.SignalTickerEntry, bool) {
	fast, slow := d.FastPeriod, d.SlowPeriod
	if v, ok := config["fast_period"].(float64); ok {
		fast = int(v)
	}
	if v, ok := config["slow_period"].(float64); ok {
		slow = int(v)
	}
	if len(candles) < slow+1 {
		return nil, false
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fastNow := formulas.CalculateSMA(closes, fast)
	slowNow := formulas.CalculateSMA(closes, slow)
	fastPrev := formulas.CalculateSMA(closes[:len(closes)-1], fast)
	slowPrev := formulas.CalculateSMA(closes[:len(closes)-1], slow)
	if fastNow == nil || slowNow == nil || fastPrev == nil || slowPrev == nil {
		return nil, false
	}

	crossedUp := *fastPrev <= *slowPrev && *fastNow > *slowNow
	if !crossedUp {
		return nil, false
	}

	confidence := 0.6
	if *slowNow != 0 {
		spread := (*fastNow - *slowNow) / *slowNow
		confidence = clamp(0.5+spread*10, 0.5, 0.99)
	}

	return &domain.SignalTickerEntry{
		Ticker:     ticker,
		Bias:       domain.SignalBullish,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("SMA(%d) crossed above SMA(%d)", fast, slow),
	}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
