// Package providers defines the market-data provider interface the Data
// Plane pulls quotes and candles through, rate-limited per provider the way
// the teacher's SDK clients are, plus an in-memory stub for tests.
package providers

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/aristath/tradepilot/internal/domain"
)

// Provider is a market-data source. AssetClasses reports which asset
// classes it can serve, so the Data Plane's provider selection can route a
// forex pair away from an equities-only provider.
type Provider interface {
	Name() string
	AssetClasses() []string
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)
}

// RateLimitedProvider wraps a Provider with a token-bucket limiter so a
// single misbehaving detector or backfill job can't blow through the
// upstream API's rate limit.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing rps requests per second
// and a burst of int(2*rps)+1 requests. A non-positive rps falls back to 5.
func NewRateLimited(inner Provider, rps float64) *RateLimitedProvider {
	if rps <= 0 {
		rps = 5
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps*2)+1),
	}
}

func (p *RateLimitedProvider) Name() string           { return p.inner.Name() }
func (p *RateLimitedProvider) AssetClasses() []string { return p.inner.AssetClasses() }

func (p *RateLimitedProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.GetQuote(ctx, symbol)
}

func (p *RateLimitedProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.GetCandles(ctx, symbol, timeframe, limit)
}

// Remaining reports tokens currently available, used by the provider
// latency/rate-limit gauge.
func (p *RateLimitedProvider) Remaining() float64 {
	return p.limiter.Tokens()
}

var _ Provider = (*RateLimitedProvider)(nil)

// Registry selects a Provider by asset class, falling back to a default
// provider when no class-specific one is registered.
type Registry struct {
	byClass map[string]Provider
	primary Provider
}

// NewRegistry builds a Registry with primary as the default provider.
func NewRegistry(primary Provider) *Registry {
	return &Registry{byClass: make(map[string]Provider), primary: primary}
}

// Register associates a provider with an asset class, preferred over the
// primary provider for symbols of that class.
func (r *Registry) Register(assetClass string, p Provider) {
	r.byClass[assetClass] = p
}

// For returns the provider to use for assetClass.
func (r *Registry) For(assetClass string) Provider {
	if p, ok := r.byClass[assetClass]; ok {
		return p
	}
	return r.primary
}
