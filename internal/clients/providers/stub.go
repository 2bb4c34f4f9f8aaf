package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/tradepilot/internal/domain"
)

// StubProvider is an in-memory market-data provider backing tests and
// paper/simulation execution modes where no external API is wired.
type StubProvider struct {
	mu      sync.Mutex
	name    string
	classes []string
	quotes  map[string]domain.Quote
	candles map[string]map[string][]domain.Candle // symbol -> timeframe -> candles
	err     error
}

// NewStubProvider builds a StubProvider serving the given asset classes.
func NewStubProvider(name string, classes ...string) *StubProvider {
	return &StubProvider{
		name:    name,
		classes: classes,
		quotes:  make(map[string]domain.Quote),
		candles: make(map[string]map[string][]domain.Candle),
	}
}

func (p *StubProvider) Name() string           { return p.name }
func (p *StubProvider) AssetClasses() []string { return p.classes }

// SetError makes subsequent calls fail, until reset with nil.
func (p *StubProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// SetQuote seeds the quote returned for symbol.
func (p *StubProvider) SetQuote(symbol string, quote domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = quote
}

// SetCandles seeds the candle series returned for (symbol, timeframe).
func (p *StubProvider) SetCandles(symbol, timeframe string, candles []domain.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candles[symbol] == nil {
		p.candles[symbol] = make(map[string][]domain.Candle)
	}
	p.candles[symbol][timeframe] = candles
}

func (p *StubProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	q, ok := p.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("provider %s: no quote seeded for %s", p.name, symbol)
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	return &q, nil
}

func (p *StubProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	candles := p.candles[symbol][timeframe]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

var _ Provider = (*StubProvider)(nil)
