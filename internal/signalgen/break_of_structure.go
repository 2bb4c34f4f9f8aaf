package signalgen

import (
	"fmt"

	"github.com/aristath/tradepilot/internal/domain"
)

// breakOfStructureCore holds the swing-detection logic shared by the
// bullish and bearish detectors. A swing point needs strength candles of
// lower highs / higher lows on both sides to be considered confirmed.
type breakOfStructureCore struct {
	SwingStrength int
	Lookback      int
}

func (c breakOfStructureCore) window(candles []domain.Candle) []domain.Candle {
	if c.Lookback > 0 && len(candles) > c.Lookback {
		return candles[len(candles)-c.Lookback:]
	}
	return candles
}

func (c breakOfStructureCore) strengthFrom(config map[string]any) int {
	if v, ok := config["swing_strength"].(float64); ok {
		return int(v)
	}
	return c.SwingStrength
}

// BreakOfStructureBullishDetector fires when the latest close breaks the
// most recent confirmed swing high.
type BreakOfStructureBullishDetector struct{ breakOfStructureCore }

// NewBreakOfStructureBullishDetector builds a detector with a 3-candle
// swing strength and a 50-candle lookback window.
func NewBreakOfStructureBullishDetector() *BreakOfStructureBullishDetector {
	return &BreakOfStructureBullishDetector{breakOfStructureCore{SwingStrength: 3, Lookback: 50}}
}

func (d *BreakOfStructureBullishDetector) Type() domain.SignalType {
	return domain.SignalBreakOfStructureBullish
}

func (d *BreakOfStructureBullishDetector) Evaluate(ticker string, candles []domain.Candle, config map[string]any) (*domain.SignalTickerEntry, bool) {
	strength := d.strengthFrom(config)
	window := d.window(candles)
	if len(window) < strength*2+2 {
		return nil, false
	}
	last := window[len(window)-1]
	swingHigh, have := lastConfirmedSwingHigh(window[:len(window)-1], strength)
	if !have || last.Close <= swingHigh {
		return nil, false
	}
	return &domain.SignalTickerEntry{
		Ticker:     ticker,
		Bias:       domain.SignalBullish,
		Confidence: 0.65,
		Reasoning:  fmt.Sprintf("close %.4f broke swing high %.4f", last.Close, swingHigh),
	}, true
}

// BreakOfStructureBearishDetector fires when the latest close breaks the
// most recent confirmed swing low.
type BreakOfStructureBearishDetector struct{ breakOfStructureCore }

// NewBreakOfStructureBearishDetector builds a detector with a 3-candle
// swing strength and a 50-candle lookback window.
func NewBreakOfStructureBearishDetector() *BreakOfStructureBearishDetector {
	return &BreakOfStructureBearishDetector{breakOfStructureCore{SwingStrength: 3, Lookback: 50}}
}

func (d *BreakOfStructureBearishDetector) Type() domain.SignalType {
	return domain.SignalBreakOfStructureBearish
}

func (d *BreakOfStructureBearishDetector) Evaluate(ticker string, candles []domain.Candle, config map[string]any) (*domain.SignalTickerEntry, bool) {
	strength := d.strengthFrom(config)
	window := d.window(candles)
	if len(window) < strength*2+2 {
		return nil, false
	}
	last := window[len(window)-1]
	swingLow, have := lastConfirmedSwingLow(window[:len(window)-1], strength)
	if !have || last.Close >= swingLow {
		return nil, false
	}
	return &domain.SignalTickerEntry{
		Ticker:     ticker,
		Bias:       domain.SignalBearish,
		Confidence: 0.65,
		Reasoning:  fmt.Sprintf("close %.4f broke swing low %.4f", last.Close, swingLow),
	}, true
}

func lastConfirmedSwingHigh(candles []domain.Candle, strength int) (float64, bool) {
	for i := len(candles) - strength - 1; i >= strength; i-- {
		pivot := candles[i].High
		confirmed := true
		for j := i - strength; j < i; j++ {
			if candles[j].High >= pivot {
				confirmed = false
				break
			}
		}
		for j := i + 1; j <= i+strength && confirmed; j++ {
			if candles[j].High >= pivot {
				confirmed = false
			}
		}
		if confirmed {
			return pivot, true
		}
	}
	return 0, false
}

func lastConfirmedSwingLow(candles []domain.Candle, strength int) (float64, bool) {
	for i := len(candles) - strength - 1; i >= strength; i-- {
		pivot := candles[i].Low
		confirmed := true
		for j := i - strength; j < i; j++ {
			if candles[j].Low <= pivot {
				confirmed = false
				break
			}
		}
		for j := i + 1; j <= i+strength && confirmed; j++ {
			if candles[j].Low <= pivot {
				confirmed = false
			}
		}
		if confirmed {
			return pivot, true
		}
	}
	return 0, false
}
