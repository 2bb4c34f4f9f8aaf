package brokers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/tradepilot/internal/domain"
)

// StubBroker is an in-memory paper broker. It fills every order immediately
// at the requested (or a synthetic) price, and is the default broker for
// ModePaper/ModeSimulation/ModeValidation executions and for tests.
type StubBroker struct {
	mu sync.Mutex

	connected bool
	err       error

	account   domain.AccountInfo
	positions map[string]map[string]domain.Position // accountKey -> symbol -> position
	orders    map[string]map[string]domain.Order    // accountKey -> orderID -> order
	trades    map[string]domain.TradeDetails        // tradeID -> details
	quotes    map[string]domain.BrokerQuote         // symbol -> quote
	candles   map[string][]domain.Candle            // symbol -> candles

	now func() time.Time
}

// NewStubBroker builds a StubBroker with a default account and no positions.
func NewStubBroker() *StubBroker {
	return &StubBroker{
		connected: true,
		account: domain.AccountInfo{
			Currency:       "USD",
			Cash:           100000,
			BuyingPower:    100000,
			PortfolioValue: 100000,
		},
		positions: make(map[string]map[string]domain.Position),
		orders:    make(map[string]map[string]domain.Order),
		trades:    make(map[string]domain.TradeDetails),
		quotes:    make(map[string]domain.BrokerQuote),
		candles:   make(map[string][]domain.Candle),
		now:       time.Now,
	}
}

// SetError makes every subsequent call fail with err, until reset with nil.
func (b *StubBroker) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// SetConnected controls what TestConnection reports.
func (b *StubBroker) SetConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = connected
}

// SetQuote seeds the quote GetQuote returns for symbol.
func (b *StubBroker) SetQuote(symbol string, quote domain.BrokerQuote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = quote
}

// SetCandles seeds the candles GetRecentCandles returns for symbol.
func (b *StubBroker) SetCandles(symbol string, candles []domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles[symbol] = candles
}

// SetTradeDetails seeds the broker-authoritative record GetTradeDetails
// returns for tradeID, simulating reconciliation having caught up.
func (b *StubBroker) SetTradeDetails(tradeID string, details domain.TradeDetails) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades[tradeID] = details
}

func (b *StubBroker) TestConnection(ctx context.Context, accountKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if !b.connected {
		return fmt.Errorf("broker: not connected")
	}
	return nil
}

func (b *StubBroker) GetAccountInfo(ctx context.Context, accountKey string) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	info := b.account
	return &info, nil
}

func (b *StubBroker) GetPositions(ctx context.Context, accountKey string) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	positions := make([]domain.Position, 0, len(b.positions[accountKey]))
	for _, p := range b.positions[accountKey] {
		positions = append(positions, p)
	}
	return positions, nil
}

func (b *StubBroker) GetPosition(ctx context.Context, accountKey, symbol string) (*domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if p, ok := b.positions[accountKey][symbol]; ok {
		pos := p
		return &pos, nil
	}
	return nil, nil
}

func (b *StubBroker) HasActiveSymbol(ctx context.Context, accountKey, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.positions[accountKey][symbol]
	return ok, nil
}

func (b *StubBroker) PlaceOrder(ctx context.Context, accountKey string, req OrderRequest) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.fillLocked(accountKey, req.Symbol, req.Side, req.Quantity, req.Type, req.LimitPrice, req.StopPrice, nil, nil, req.TimeInForce)
}

func (b *StubBroker) PlaceBracketOrder(ctx context.Context, accountKey string, req BracketOrderRequest) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.fillLocked(accountKey, req.Symbol, req.Side, req.Quantity, domain.BrokerOrderMarket, nil, nil, &req.TakeProfit, &req.StopLoss, req.TimeInForce)
}

func (b *StubBroker) PlaceLimitBracketOrder(ctx context.Context, accountKey string, req LimitBracketOrderRequest) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.fillLocked(accountKey, req.Symbol, req.Side, req.Quantity, domain.BrokerOrderLimit, &req.LimitPrice, nil, &req.TakeProfit, &req.StopLoss, req.TimeInForce)
}

// fillLocked places and immediately fills an order, recording the resulting
// position. Callers must hold b.mu.
func (b *StubBroker) fillLocked(accountKey, symbol string, side domain.OrderSide, qty float64, orderType domain.BrokerOrderType, limitPrice, stopPrice, takeProfit, stopLoss *float64, tif domain.TimeInForce) (*domain.Order, error) {
	fillPrice := 0.0
	if q, ok := b.quotes[symbol]; ok {
		fillPrice = q.Last
	}
	if limitPrice != nil {
		fillPrice = *limitPrice
	}

	orderID := uuid.NewString()
	tradeID := uuid.NewString()
	filledQty := qty
	order := domain.Order{
		ID:             orderID,
		Symbol:         symbol,
		Quantity:       qty,
		Side:           side,
		Type:           orderType,
		LimitPrice:     limitPrice,
		StopPrice:      stopPrice,
		TakeProfit:     takeProfit,
		StopLoss:       stopLoss,
		TimeInForce:    tif,
		Status:         domain.OrderStatusFilled,
		FilledPrice:    &fillPrice,
		FilledQuantity: &filledQty,
		TradeID:        tradeID,
		CreatedAt:      b.now(),
	}

	if b.orders[accountKey] == nil {
		b.orders[accountKey] = make(map[string]domain.Order)
	}
	b.orders[accountKey][orderID] = order

	positionSide := domain.PositionLong
	if side == domain.OrderSell {
		positionSide = domain.PositionShort
	}
	if b.positions[accountKey] == nil {
		b.positions[accountKey] = make(map[string]domain.Position)
	}
	b.positions[accountKey][symbol] = domain.Position{
		Symbol:        symbol,
		Quantity:      qty,
		Side:          positionSide,
		AvgEntryPrice: fillPrice,
		CurrentPrice:  fillPrice,
		MarketValue:   fillPrice * qty,
		CostBasis:     fillPrice * qty,
	}

	b.trades[tradeID] = domain.TradeDetails{
		Found:      true,
		State:      domain.TradeDetailOpen,
		Instrument: symbol,
		OpenPrice:  fillPrice,
		Units:      qty,
	}

	return &order, nil
}

func (b *StubBroker) GetOrders(ctx context.Context, accountKey string) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	orders := make([]domain.Order, 0, len(b.orders[accountKey]))
	for _, o := range b.orders[accountKey] {
		orders = append(orders, o)
	}
	return orders, nil
}

func (b *StubBroker) CancelOrder(ctx context.Context, accountKey, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	order, ok := b.orders[accountKey][orderID]
	if !ok {
		return fmt.Errorf("broker: order %s not found", orderID)
	}
	order.Status = domain.OrderStatusCancelled
	b.orders[accountKey][orderID] = order
	return nil
}

func (b *StubBroker) ClosePosition(ctx context.Context, accountKey, symbol string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	pos, ok := b.positions[accountKey][symbol]
	if !ok {
		return nil, fmt.Errorf("broker: no open position for %s", symbol)
	}
	delete(b.positions[accountKey], symbol)

	closeSide := domain.OrderSell
	if pos.Side == domain.PositionShort {
		closeSide = domain.OrderBuy
	}
	closePrice := pos.CurrentPrice
	if q, ok := b.quotes[symbol]; ok {
		closePrice = q.Last
	}

	orderID := uuid.NewString()
	filledQty := pos.Quantity
	order := domain.Order{
		ID:             orderID,
		Symbol:         symbol,
		Quantity:       pos.Quantity,
		Side:           closeSide,
		Type:           domain.BrokerOrderMarket,
		Status:         domain.OrderStatusFilled,
		FilledPrice:    &closePrice,
		FilledQuantity: &filledQty,
		CreatedAt:      b.now(),
	}
	if b.orders[accountKey] == nil {
		b.orders[accountKey] = make(map[string]domain.Order)
	}
	b.orders[accountKey][orderID] = order

	for tradeID, td := range b.trades {
		if td.Instrument == symbol && td.State == domain.TradeDetailOpen {
			realized := (closePrice - pos.AvgEntryPrice) * pos.Quantity
			if pos.Side == domain.PositionShort {
				realized = (pos.AvgEntryPrice - closePrice) * pos.Quantity
			}
			now := b.now()
			td.State = domain.TradeDetailClosed
			td.ClosePrice = &closePrice
			td.RealizedPL = &realized
			td.CloseTime = &now
			b.trades[tradeID] = td
		}
	}

	return &order, nil
}

func (b *StubBroker) GetQuote(ctx context.Context, accountKey, symbol string) (*domain.BrokerQuote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	q, ok := b.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("broker: no quote seeded for %s", symbol)
	}
	return &q, nil
}

func (b *StubBroker) GetRecentCandles(ctx context.Context, accountKey, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	candles := b.candles[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (b *StubBroker) GetTradeDetails(ctx context.Context, accountKey, tradeID string) (*domain.TradeDetails, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	td, ok := b.trades[tradeID]
	if !ok {
		return &domain.TradeDetails{Found: false}, nil
	}
	return &td, nil
}

var _ Client = (*StubBroker)(nil)
