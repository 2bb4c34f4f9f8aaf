// Package signalgen runs detectors on a schedule and publishes the signals
// they produce onto the partitioned signal bus.
package signalgen

import (
	"github.com/aristath/tradepilot/internal/domain"
)

// Detector is a pure evaluation function over one ticker's recent candles.
// It never touches the network or the database; the service supplies
// candles fetched from the Data Plane.
type Detector interface {
	// Type identifies the SignalType this detector produces.
	Type() domain.SignalType
	// Evaluate inspects candles and returns an entry if the condition holds.
	Evaluate(ticker string, candles []domain.Candle, config map[string]any) (*domain.SignalTickerEntry, bool)
}
