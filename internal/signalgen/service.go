package signalgen

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/dataplane"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/metrics"
	"github.com/aristath/tradepilot/internal/signalbus"
)

// Registration binds a Detector to the schedule it runs on.
type Registration struct {
	Detector  Detector
	Timeframe string
	Interval  time.Duration
	Tickers   []string
	Config    map[string]any
}

// Service runs each registered detector concurrently on its own ticker,
// batching the entries it produces per tick into a single Signal message.
type Service struct {
	data *dataplane.Service
	bus  *signalbus.Bus
	log  zerolog.Logger
}

// New builds a Service.
func New(data *dataplane.Service, bus *signalbus.Bus, log zerolog.Logger) *Service {
	return &Service{data: data, bus: bus, log: log}
}

// Run starts one goroutine per registration and blocks until ctx is
// cancelled. Each goroutine ticks independently at its own interval.
func (s *Service) Run(ctx context.Context, registrations []Registration) {
	var wg sync.WaitGroup
	for _, reg := range registrations {
		wg.Add(1)
		go func(reg Registration) {
			defer wg.Done()
			s.runLoop(ctx, reg)
		}(reg)
	}
	wg.Wait()
}

func (s *Service) runLoop(ctx context.Context, reg Registration) {
	ticker := time.NewTicker(reg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, reg)
		}
	}
}

func (s *Service) tick(ctx context.Context, reg Registration) {
	detectorName := string(reg.Detector.Type())
	start := time.Now()
	entries := make([]domain.SignalTickerEntry, 0, len(reg.Tickers))

	for _, symbol := range reg.Tickers {
		candles, err := s.data.GetCandles(ctx, symbol, reg.Timeframe, 500)
		if err != nil {
			s.log.Warn().Err(err).Str("detector", detectorName).Str("symbol", symbol).Msg("signal generator candle fetch failed")
			continue
		}
		entry, ok := reg.Detector.Evaluate(symbol, candles, reg.Config)
		if !ok {
			continue
		}
		entries = append(entries, *entry)
	}

	metrics.DetectorDuration.WithLabelValues(detectorName).Observe(time.Since(start).Seconds())

	if len(entries) == 0 {
		return
	}

	signal := domain.Signal{
		SignalID:  uuid.NewString(),
		Type:      reg.Detector.Type(),
		Source:    detectorName,
		Timestamp: time.Now(),
		Tickers:   entries,
	}

	publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.bus.Publish(publishCtx, signal); err != nil {
		metrics.SignalPublishFailures.WithLabelValues(detectorName).Inc()
		payload, _ := json.Marshal(signal)
		s.log.Error().Err(err).Str("detector", detectorName).RawJSON("signal", payload).
			Msg("signal publish failed, dropping without retry")
		return
	}
	metrics.SignalsEmitted.WithLabelValues(detectorName).Add(float64(len(entries)))
}
