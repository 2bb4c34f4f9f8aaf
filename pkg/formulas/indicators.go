package formulas

import (
	"github.com/markcheno/go-talib"
)

// RSI calculates the Relative Strength Index over the given period
// (typically 14) and returns the most recent value.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	return lastValid(talib.Rsi(closes, period))
}

// MACD represents the three Moving Average Convergence Divergence series.
type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// CalculateMACD calculates MACD using the standard 12/26/9 configuration
// (or the periods supplied) and returns the most recent values.
func CalculateMACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) *MACD {
	if len(closes) < slowPeriod+signalPeriod {
		return nil
	}
	macd, signal, hist := talib.Macd(closes, fastPeriod, slowPeriod, signalPeriod)
	m, s, h := lastValid(macd), lastValid(signal), lastValid(hist)
	if m == nil || s == nil || h == nil {
		return nil
	}
	return &MACD{MACD: *m, Signal: *s, Histogram: *h}
}

// Stochastic represents the %K/%D stochastic oscillator values.
type Stochastic struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// CalculateStochastic computes the stochastic oscillator over OHLC series.
func CalculateStochastic(highs, lows, closes []float64, kPeriod, kSlow, dPeriod int) *Stochastic {
	if len(closes) < kPeriod {
		return nil
	}
	k, d := talib.Stoch(highs, lows, closes, kPeriod, kSlow, talib.SMA, dPeriod, talib.SMA)
	kv, dv := lastValid(k), lastValid(d)
	if kv == nil || dv == nil {
		return nil
	}
	return &Stochastic{K: *kv, D: *dv}
}

// ATR calculates the Average True Range, a volatility measure used by the
// strategy agent and the Data Plane's indicator computation.
func ATR(highs, lows, closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	return lastValid(talib.Atr(highs, lows, closes, period))
}

// ADX calculates the Average Directional Index, a trend-strength measure
// computed by the Data Plane's indicator worker pool; no detector reads it.
func ADX(highs, lows, closes []float64, period int) *float64 {
	if len(closes) < period*2 {
		return nil
	}
	return lastValid(talib.Adx(highs, lows, closes, period))
}
