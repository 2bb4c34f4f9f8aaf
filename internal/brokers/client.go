// Package brokers defines the broker-agnostic capability interface the Trade
// Manager and Reconciliation Task place orders and read fills through, plus a
// paper-trading stub used for ModeLive-free runs and tests.
package brokers

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
)

// Client is the full set of operations the Trade Manager, Monitoring Task,
// and Reconciliation Task need from a broker, independent of which broker is
// actually wired (Tradier, IBKR, Alpaca, ...). Every method takes the account
// key the caller is acting on behalf of, since a single process may reconcile
// against more than one brokerage account.
type Client interface {
	// TestConnection verifies credentials and reachability.
	TestConnection(ctx context.Context, accountKey string) error

	GetAccountInfo(ctx context.Context, accountKey string) (*domain.AccountInfo, error)

	GetPositions(ctx context.Context, accountKey string) ([]domain.Position, error)
	GetPosition(ctx context.Context, accountKey, symbol string) (*domain.Position, error)
	HasActiveSymbol(ctx context.Context, accountKey, symbol string) (bool, error)

	PlaceOrder(ctx context.Context, accountKey string, req OrderRequest) (*domain.Order, error)
	PlaceBracketOrder(ctx context.Context, accountKey string, req BracketOrderRequest) (*domain.Order, error)
	PlaceLimitBracketOrder(ctx context.Context, accountKey string, req LimitBracketOrderRequest) (*domain.Order, error)

	GetOrders(ctx context.Context, accountKey string) ([]domain.Order, error)
	CancelOrder(ctx context.Context, accountKey, orderID string) error

	ClosePosition(ctx context.Context, accountKey, symbol string) (*domain.Order, error)

	GetQuote(ctx context.Context, accountKey, symbol string) (*domain.BrokerQuote, error)
	GetRecentCandles(ctx context.Context, accountKey, symbol, timeframe string, limit int) ([]domain.Candle, error)

	// GetTradeDetails is the only allowed source of realized/unrealized P&L.
	// Found=false means the broker has no record yet; callers must not
	// synthesize a result and should fall back to NEEDS_RECONCILIATION.
	GetTradeDetails(ctx context.Context, accountKey, tradeID string) (*domain.TradeDetails, error)
}

// OrderRequest places a plain market or limit order with no attached legs.
type OrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Quantity    float64
	Type        domain.BrokerOrderType
	LimitPrice  *float64
	StopPrice   *float64
	TimeInForce domain.TimeInForce
}

// BracketOrderRequest is a market entry with attached take-profit/stop-loss.
type BracketOrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Quantity    float64
	TakeProfit  float64
	StopLoss    float64
	TimeInForce domain.TimeInForce
}

// LimitBracketOrderRequest is a limit entry with attached take-profit/stop-loss,
// the order type the risk manager agent's plan maps to by default.
type LimitBracketOrderRequest struct {
	Symbol      string
	Side        domain.OrderSide
	Quantity    float64
	LimitPrice  float64
	TakeProfit  float64
	StopLoss    float64
	TimeInForce domain.TimeInForce
}
