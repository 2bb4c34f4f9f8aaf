package formulas

import "math"

// isNaN reports whether f is not-a-number, used to filter warm-up values
// that go-talib pads its output series with.
func isNaN(f float64) bool {
	return math.IsNaN(f)
}

// lastValid returns the last non-NaN value of series, or nil if none exists.
func lastValid(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !isNaN(series[i]) {
			v := series[i]
			return &v
		}
	}
	return nil
}
