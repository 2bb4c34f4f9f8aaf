package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/signalbus"
	"github.com/aristath/tradepilot/internal/store"
)

func minConfidence(v float64) *float64 { return &v }

func TestDispatcher_Match_RequiresTickerIntersection(t *testing.T) {
	d := &Dispatcher{}
	d.cache = []*store.CachedPipeline{
		{ID: "p1", UserID: "u1", Tickers: map[string]bool{"MSFT": true}},
	}
	batch := signalBatch(domain.Signal{
		SignalID: "s1",
		Type:     domain.SignalGoldenCross,
		Tickers:  []domain.SignalTickerEntry{{Ticker: "AAPL", Confidence: 0.9}},
	})
	assert.Empty(t, d.match(batch))
}

func TestDispatcher_Match_RespectsSubscriptionMinConfidence(t *testing.T) {
	d := &Dispatcher{}
	d.cache = []*store.CachedPipeline{
		{
			ID: "p1", UserID: "u1",
			Tickers: map[string]bool{"AAPL": true},
			Subscriptions: []domain.Subscription{
				{SignalType: domain.SignalGoldenCross, MinConfidence: minConfidence(0.8)},
			},
		},
	}
	low := signalBatch(domain.Signal{
		SignalID: "s1", Type: domain.SignalGoldenCross,
		Tickers: []domain.SignalTickerEntry{{Ticker: "AAPL", Confidence: 0.5}},
	})
	assert.Empty(t, d.match(low))

	high := signalBatch(domain.Signal{
		SignalID: "s2", Type: domain.SignalGoldenCross,
		Tickers: []domain.SignalTickerEntry{{Ticker: "AAPL", Confidence: 0.9}},
	})
	matched := d.match(high)
	assert.Len(t, matched, 1)
	assert.Equal(t, "p1", matched[0].pipelineID)
}

func TestDispatcher_Match_EmptySubscriptionsMeansAll(t *testing.T) {
	d := &Dispatcher{}
	d.cache = []*store.CachedPipeline{
		{ID: "p1", UserID: "u1", Tickers: map[string]bool{"AAPL": true}},
	}
	batch := signalBatch(domain.Signal{
		SignalID: "s1", Type: domain.SignalLiquidityGrab,
		Tickers: []domain.SignalTickerEntry{{Ticker: "AAPL", Confidence: 0.1}},
	})
	assert.Len(t, d.match(batch), 1)
}

func TestDispatcher_Match_RoutingOverrideRestrictsPipelines(t *testing.T) {
	d := &Dispatcher{}
	d.cache = []*store.CachedPipeline{
		{ID: "p1", UserID: "u1", Tickers: map[string]bool{"AAPL": true}},
		{ID: "p2", UserID: "u2", Tickers: map[string]bool{"AAPL": true}},
	}
	batch := signalBatch(domain.Signal{
		SignalID: "s1", Type: domain.SignalGoldenCross,
		Tickers: []domain.SignalTickerEntry{{Ticker: "AAPL", Confidence: 0.9}},
		Metadata: map[string]any{
			"ticker_pipelines": map[string]any{
				"AAPL": []any{map[string]any{"pipeline_id": "p2"}},
			},
		},
	})
	matched := d.match(batch)
	assert.Len(t, matched, 1)
	assert.Equal(t, "p2", matched[0].pipelineID)
}

func signalBatch(signals ...domain.Signal) []signalbus.Message {
	out := make([]signalbus.Message, len(signals))
	for i, s := range signals {
		out[i] = signalbus.Message{Signal: s}
	}
	return out
}
