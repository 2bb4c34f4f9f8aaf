package domain

import "time"

// PositionSide is long or short, matching the broker abstraction's contract.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position mirrors a broker's open position for a symbol.
type Position struct {
	Symbol             string         `json:"symbol"`
	Quantity           float64        `json:"qty"`
	Side               PositionSide   `json:"side"`
	AvgEntryPrice      float64        `json:"avg_entry_price"`
	CurrentPrice       float64        `json:"current_price"`
	MarketValue        float64        `json:"market_value"`
	CostBasis          float64        `json:"cost_basis"`
	UnrealizedPL       float64        `json:"unrealized_pl"`
	UnrealizedPLPercent float64       `json:"unrealized_pl_percent"`
	BrokerData         map[string]any `json:"broker_data,omitempty"`
}

// OrderSide is the buy/sell direction of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// BrokerOrderType is the order type accepted by place_order.
type BrokerOrderType string

const (
	BrokerOrderMarket    BrokerOrderType = "market"
	BrokerOrderLimit     BrokerOrderType = "limit"
	BrokerOrderStop      BrokerOrderType = "stop"
	BrokerOrderStopLimit BrokerOrderType = "stop_limit"
)

// TimeInForce controls order lifetime semantics.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus is the broker-reported lifecycle of an order.
type OrderStatus string

const (
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partially_filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order mirrors a broker order, whether still open or already resolved.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Quantity       float64         `json:"qty"`
	Side           OrderSide       `json:"side"`
	Type           BrokerOrderType `json:"order_type"`
	LimitPrice     *float64        `json:"limit_price,omitempty"`
	StopPrice      *float64        `json:"stop_price,omitempty"`
	TakeProfit     *float64        `json:"take_profit,omitempty"`
	StopLoss       *float64        `json:"stop_loss,omitempty"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Status         OrderStatus     `json:"status"`
	FilledPrice    *float64        `json:"filled_price,omitempty"`
	FilledQuantity *float64        `json:"filled_qty,omitempty"`
	TradeID        string          `json:"trade_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	BrokerData     map[string]any  `json:"broker_data,omitempty"`
}

// TradeDetailState is the broker's view of whether a trade is still open.
type TradeDetailState string

const (
	TradeDetailOpen   TradeDetailState = "open"
	TradeDetailClosed TradeDetailState = "closed"
)

// TradeDetails is the broker-authoritative record used to source realized
// P&L. Nothing downstream is allowed to fabricate these numbers.
type TradeDetails struct {
	Found        bool              `json:"found"`
	State        TradeDetailState  `json:"state"`
	RealizedPL   *float64          `json:"realized_pl,omitempty"`
	UnrealizedPL *float64          `json:"unrealized_pl,omitempty"`
	CloseTime    *time.Time        `json:"close_time,omitempty"`
	Instrument   string            `json:"instrument"`
	OpenPrice    float64           `json:"open_price"`
	ClosePrice   *float64          `json:"close_price,omitempty"`
	Units        float64           `json:"units"`
	BrokerData   map[string]any    `json:"broker_data,omitempty"`
}

// AccountInfo is a broker account snapshot.
type AccountInfo struct {
	Currency       string  `json:"currency"`
	Cash           float64 `json:"cash"`
	BuyingPower    float64 `json:"buying_power"`
	PortfolioValue float64 `json:"portfolio_value"`
}

// BrokerQuote is the pricing information the broker abstraction can return,
// distinct from domain.Quote which is the Data Plane's normalized shape.
type BrokerQuote struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}
