package trademanager

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
)

// Execute runs the first-call phase of the state machine: validates
// preconditions, places the opening order, and flips the pipeline into
// monitoring before the broker call so a worker crash never orphans an
// order outside the monitoring loop's view.
func (m *TradeManager) Execute(ctx context.Context, config map[string]any, state *domain.PipelineState) error {
	if attached := attachedBrokerTools(config); len(attached) > 1 {
		return fail("multiple broker tools attached: %s. Please attach only ONE broker tool (Alpaca, Oanda, or Tradier). The Trade Manager can only execute on one broker at a time", strings.Join(attached, ", "))
	}

	accountKey := brokerAccountKey(config)
	client, ok := m.resolver.Resolve(accountKey)
	if !ok {
		return fail("no broker resolved for account key %q", accountKey)
	}

	if state.Risk == nil {
		state.TradeExecution = &domain.TradeExecution{Status: domain.TradeExecSkipped, Reason: "no risk assessment"}
		state.ShouldComplete = true
		return nil
	}

	open, err := m.hours.IsOpen(ctx, state.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", state.Symbol).Msg("market hours check failed, proceeding fail-open")
	} else if !open {
		state.TradeExecution = &domain.TradeExecution{Status: domain.TradeExecSkipped, Reason: "market closed"}
		state.ShouldComplete = true
		return nil
	}

	if state.Strategy == nil || state.Strategy.Action == domain.ActionHold {
		state.TradeExecution = &domain.TradeExecution{Status: domain.TradeExecNoAction, Reason: "strategy held"}
		state.ShouldComplete = true
		return nil
	}
	if !state.Risk.Approved {
		state.TradeExecution = &domain.TradeExecution{Status: domain.TradeExecRejected, Reason: "risk manager did not approve"}
		state.ShouldComplete = true
		return nil
	}

	active, err := client.HasActiveSymbol(ctx, accountKey, state.Symbol)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", state.Symbol).Msg("has_active_symbol failed, treating as duplicate to avoid double entry")
		active = true
	}
	if active {
		state.TradeExecution = &domain.TradeExecution{Status: domain.TradeExecSkipped, Reason: "duplicate position"}
		state.ShouldComplete = true
		return nil
	}

	side := domain.OrderBuy
	if state.Strategy.Action == domain.ActionSell {
		side = domain.OrderSell
	}

	// Set monitoring phase before the broker call: if the call panics or the
	// process dies mid-request, the monitoring loop still picks this up and
	// reconciles against broker state rather than leaving an orphaned order.
	state.ExecutionPhase = domain.PhaseMonitoring
	state.MonitorIntervalMinutes = 0.25

	trade := &domain.TradeExecution{}
	now := time.Now()
	trade.PlacedAt = &now

	if state.Strategy.TakeProfit != nil && state.Strategy.StopLoss != nil {
		order, err := client.PlaceLimitBracketOrder(ctx, accountKey, brokers.LimitBracketOrderRequest{
			Symbol:      state.Symbol,
			Side:        side,
			Quantity:    state.Risk.PositionSize,
			LimitPrice:  valueOr(state.Strategy.EntryPrice, 0),
			TakeProfit:  *state.Strategy.TakeProfit,
			StopLoss:    *state.Strategy.StopLoss,
			TimeInForce: domain.TIFGTC,
		})
		trade.OrderType = domain.OrderTypeLimitBracket
		populateFromOrder(trade, order, err)
	} else {
		order, err := client.PlaceOrder(ctx, accountKey, brokers.OrderRequest{
			Symbol:      state.Symbol,
			Side:        side,
			Quantity:    state.Risk.PositionSize,
			Type:        domain.BrokerOrderMarket,
			TimeInForce: domain.TIFDay,
		})
		trade.OrderType = domain.OrderTypeMarket
		populateFromOrder(trade, order, err)
	}

	state.TradeExecution = trade

	if notifyOnTradeExecuted(config) {
		_ = m.notifier.Notify(ctx, "", "trade_executed", map[string]any{
			"symbol": state.Symbol, "order_id": trade.OrderID, "status": trade.Status,
		})
	}

	return nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func populateFromOrder(trade *domain.TradeExecution, order *domain.Order, err error) {
	if err != nil {
		trade.Status = domain.TradeExecRejected
		trade.LastAPIError = err.Error()
		return
	}
	trade.OrderID = order.ID
	trade.TradeID = order.TradeID
	trade.FilledPrice = order.FilledPrice
	trade.FilledQuantity = order.FilledQuantity
	trade.BrokerResponse = order.BrokerData
	switch order.Status {
	case domain.OrderStatusFilled:
		trade.Status = domain.TradeExecFilled
	case domain.OrderStatusPartial:
		trade.Status = domain.TradeExecPartial
	case domain.OrderStatusPending:
		trade.Status = domain.TradeExecPending
	default:
		trade.Status = domain.TradeExecAccepted
	}
}
