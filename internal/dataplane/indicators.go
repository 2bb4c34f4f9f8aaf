package dataplane

import (
	"context"
	"fmt"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/pkg/formulas"
)

// IndicatorSpec names one indicator computation the caller wants, e.g.
// {Name: "RSI", Params: "14"}.
type IndicatorSpec struct {
	Name   string
	Params string
}

// indicatorJob is one unit of work handed to the computation worker pool.
type indicatorJob struct {
	spec    IndicatorSpec
	candles []domain.Candle
}

type indicatorResult struct {
	name   string
	series []float64
	err    error
}

// GetIndicators computes (or returns cached) series for each spec against
// the most recent candles for (symbol, timeframe). Computation fans out
// across a small worker pool since talib calls are CPU-bound.
func (s *Service) GetIndicators(ctx context.Context, symbol, timeframe string, specs []IndicatorSpec) (map[string][]float64, error) {
	result := make(map[string][]float64, len(specs))
	var uncached []IndicatorSpec

	for _, spec := range specs {
		series, found, err := s.cache.GetIndicator(ctx, symbol, timeframe, spec.Name, spec.Params)
		if err == nil && found {
			result[spec.Name] = series
			continue
		}
		uncached = append(uncached, spec)
	}
	if len(uncached) == 0 {
		return result, nil
	}

	candles, err := s.GetCandles(ctx, symbol, timeframe, 500)
	if err != nil {
		return nil, fmt.Errorf("fetch candles for indicators %s/%s: %w", symbol, timeframe, err)
	}

	jobs := make(chan indicatorJob, len(uncached))
	results := make(chan indicatorResult, len(uncached))
	const workers = 4
	for w := 0; w < workers; w++ {
		go indicatorWorker(jobs, results)
	}
	for _, spec := range uncached {
		jobs <- indicatorJob{spec: spec, candles: candles}
	}
	close(jobs)

	for range uncached {
		r := <-results
		if r.err != nil {
			s.log.Warn().Err(r.err).Str("indicator", r.name).Msg("indicator computation failed")
			continue
		}
		result[r.name] = r.series
		spec := specFor(uncached, r.name)
		if err := s.cache.SetIndicator(ctx, symbol, timeframe, spec.Name, spec.Params, r.series); err != nil {
			s.log.Warn().Err(err).Str("indicator", r.name).Msg("indicator cache write failed")
		}
	}
	return result, nil
}

func specFor(specs []IndicatorSpec, name string) IndicatorSpec {
	for _, s := range specs {
		if s.Name == name {
			return s
		}
	}
	return IndicatorSpec{Name: name}
}

func indicatorWorker(jobs <-chan indicatorJob, results chan<- indicatorResult) {
	for job := range jobs {
		series, err := compute(job.spec, job.candles)
		results <- indicatorResult{name: job.spec.Name, series: series, err: err}
	}
}

// compute returns the indicator's most recent value: a single-element series
// for scalar indicators, and the latest components for MACD (macd, signal,
// histogram), STOCH (k, d) and BBANDS (upper, middle, lower). formulas only
// exposes latest-value accessors, which is all the fixed agent sequence ever
// reads.
func compute(spec IndicatorSpec, candles []domain.Candle) ([]float64, error) {
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	switch spec.Name {
	case "RSI":
		return scalarSeries(formulas.RSI(closes, 14)), nil
	case "MACD":
		macd := formulas.CalculateMACD(closes, 12, 26, 9)
		if macd == nil {
			return nil, fmt.Errorf("insufficient candles for MACD")
		}
		return []float64{macd.MACD, macd.Signal, macd.Histogram}, nil
	case "ATR":
		return scalarSeries(formulas.ATR(highs, lows, closes, 14)), nil
	case "ADX":
		return scalarSeries(formulas.ADX(highs, lows, closes, 14)), nil
	case "STOCH":
		stoch := formulas.CalculateStochastic(highs, lows, closes, 14, 3, 3)
		if stoch == nil {
			return nil, fmt.Errorf("insufficient candles for STOCH")
		}
		return []float64{stoch.K, stoch.D}, nil
	case "SMA":
		return scalarSeries(formulas.CalculateSMA(closes, smaPeriod(spec.Params))), nil
	case "EMA":
		return scalarSeries(formulas.CalculateEMA(closes, smaPeriod(spec.Params))), nil
	case "BBANDS":
		bb := formulas.CalculateBollingerBands(closes, 20, 2)
		if bb == nil {
			return nil, fmt.Errorf("insufficient candles for BBANDS")
		}
		return []float64{bb.Upper, bb.Middle, bb.Lower}, nil
	default:
		return nil, fmt.Errorf("unsupported indicator %q", spec.Name)
	}
}

func scalarSeries(v *float64) []float64 {
	if v == nil {
		return nil
	}
	return []float64{*v}
}

func smaPeriod(params string) int {
	switch params {
	case "50":
		return 50
	case "200":
		return 200
	default:
		return 20
	}
}
