package trademanager

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradepilot/internal/domain"
)

// Monitor runs one check of the monitor phase. Every call clears the
// previous call's completion flags before branching.
func (m *TradeManager) Monitor(ctx context.Context, config map[string]any, state *domain.PipelineState) error {
	state.ShouldComplete = false
	state.CommunicationError = false
	state.TradeOutcome = nil

	if state.TradeExecution == nil {
		return fail("monitor called with no trade_execution")
	}
	accountKey := brokerAccountKey(config)
	client, ok := m.resolver.Resolve(accountKey)
	if !ok {
		return fail("no broker resolved for account key %q", accountKey)
	}
	trade := state.TradeExecution

	if trade.PlacedAt != nil && time.Since(*trade.PlacedAt) < gracePeriod {
		if _, err := client.GetOrders(ctx, accountKey); err != nil {
			state.Log("pending_sync: grace period, broker not yet consistent")
			return nil
		}
	}

	if trade.OrderID != "" && trade.TradeID == "" {
		return m.monitorPendingLimit(ctx, client, accountKey, config, state, trade)
	}
	// Either a trade_id is already known (a filled position awaiting exit) or
	// neither id is set (the order was never recorded, or state was
	// reconstructed after a crash) - both resolve against broker position
	// state the same way.
	return m.monitorOpenPosition(ctx, client, accountKey, state, trade)
}

func (m *TradeManager) monitorPendingLimit(ctx context.Context, client brokerClient, accountKey string, config map[string]any, state *domain.PipelineState, trade *domain.TradeExecution) error {
	orders, err := client.GetOrders(ctx, accountKey)
	if err != nil {
		return m.handleAPIError(state, trade, err)
	}

	stillOpen := findOpenOrder(orders, trade.OrderID)
	if stillOpen != nil {
		return m.evaluatePendingCancel(ctx, client, accountKey, config, state, trade, *stillOpen)
	}

	position, err := client.GetPosition(ctx, accountKey, state.Symbol)
	if err != nil {
		return m.handleAPIError(state, trade, err)
	}
	if position != nil {
		return m.recordFilledPosition(ctx, client, accountKey, state, trade, position)
	}
	return m.recordClosedPosition(ctx, client, accountKey, state, trade)
}

func (m *TradeManager) evaluatePendingCancel(ctx context.Context, client brokerClient, accountKey string, config map[string]any, state *domain.PipelineState, trade *domain.TradeExecution, order domain.Order) error {
	if trade.PlacedAt != nil {
		age := time.Since(*trade.PlacedAt)
		if age > time.Duration(maxPendingHours(config)*float64(time.Hour)) {
			_ = client.CancelOrder(ctx, accountKey, trade.OrderID)
			return m.cancelTrade(state, trade, "stale order timeout")
		}
	}

	if state.Strategy != nil && state.Strategy.StopLoss != nil && state.Strategy.TakeProfit != nil {
		quote, err := client.GetQuote(ctx, accountKey, state.Symbol)
		if err == nil {
			if reason, hit := priceInvalidates(state.Strategy.Action, quote.Last, *state.Strategy.StopLoss, *state.Strategy.TakeProfit); hit {
				_ = client.CancelOrder(ctx, accountKey, trade.OrderID)
				return m.cancelTrade(state, trade, reason)
			}
		}
		candles, err := client.GetRecentCandles(ctx, accountKey, state.Symbol, "1m", 5)
		if err == nil {
			if reason, hit := candlesInvalidate(state.Strategy.Action, candles, *state.Strategy.StopLoss, *state.Strategy.TakeProfit); hit {
				_ = client.CancelOrder(ctx, accountKey, trade.OrderID)
				return m.cancelTrade(state, trade, reason)
			}
		}
	}

	state.Log(fmt.Sprintf("monitoring limit order %s", order.ID))
	return nil
}

func priceInvalidates(action domain.StrategyAction, last, stop, target float64) (string, bool) {
	if action == domain.ActionBuy {
		if last <= stop {
			return "setup invalidated", true
		}
		if last >= target {
			return "missed opportunity", true
		}
		return "", false
	}
	if last >= stop {
		return "setup invalidated", true
	}
	if last <= target {
		return "missed opportunity", true
	}
	return "", false
}

func candlesInvalidate(action domain.StrategyAction, candles []domain.Candle, stop, target float64) (string, bool) {
	for _, c := range candles {
		if action == domain.ActionBuy {
			if c.Low <= stop || c.High >= target {
				return "stop or target touched intrabar", true
			}
		} else {
			if c.High >= stop || c.Low <= target {
				return "stop or target touched intrabar", true
			}
		}
	}
	return "", false
}

func (m *TradeManager) cancelTrade(state *domain.PipelineState, trade *domain.TradeExecution, reason string) error {
	zero := 0.0
	now := time.Now()
	state.TradeOutcome = &domain.TradeOutcome{Status: domain.OutcomeCancelled, PnL: &zero, ExitReason: reason, ClosedAt: &now}
	state.ShouldComplete = true
	trade.LastSuccessfulCheck = &now
	return nil
}

func (m *TradeManager) monitorOpenPosition(ctx context.Context, client brokerClient, accountKey string, state *domain.PipelineState, trade *domain.TradeExecution) error {
	position, err := client.GetPosition(ctx, accountKey, state.Symbol)
	if err != nil {
		return m.handleAPIError(state, trade, err)
	}
	if position != nil {
		return m.recordFilledPosition(ctx, client, accountKey, state, trade, position)
	}
	return m.recordClosedPosition(ctx, client, accountKey, state, trade)
}

func (m *TradeManager) recordFilledPosition(ctx context.Context, client brokerClient, accountKey string, state *domain.PipelineState, trade *domain.TradeExecution, position *domain.Position) error {
	now := time.Now()
	trade.APIErrorCount = 0
	trade.LastSuccessfulCheck = &now
	if trade.Status == domain.TradeExecAccepted || trade.Status == domain.TradeExecPending {
		trade.Status = domain.TradeExecFilled
	}
	if trade.TradeID == "" {
		trade.TradeID = extractTradeID(position, trade)
	}

	if emergencyExitTriggered(state) {
		order, err := client.ClosePosition(ctx, accountKey, state.Symbol)
		pnl := position.UnrealizedPL
		exitPrice := position.CurrentPrice
		if err == nil && order != nil && order.FilledPrice != nil {
			exitPrice = *order.FilledPrice
		}
		state.TradeOutcome = &domain.TradeOutcome{
			Status: domain.OutcomeExecuted, PnL: &pnl, ExitReason: "emergency exit condition triggered",
			ExitPrice: &exitPrice, ClosedAt: &now,
		}
		state.ShouldComplete = true
		return nil
	}

	state.Log(fmt.Sprintf("monitoring open position, unrealized_pl=%.2f", position.UnrealizedPL))
	return nil
}

// emergencyExitTriggered reports the one emergency-exit condition with no
// market-wide risk proxy behind it: a manual EMERGENCY_EXIT signal attached
// to this execution. VIX spikes, high-impact news, and market-crash checks
// need a live feed this deployment doesn't have wired, so they're not
// evaluated here.
func emergencyExitTriggered(state *domain.PipelineState) bool {
	return state.SignalContext != nil && state.SignalContext.SignalType == domain.SignalEmergencyExit
}

func extractTradeID(position *domain.Position, trade *domain.TradeExecution) string {
	if position.BrokerData != nil {
		if v, ok := position.BrokerData["trade_id"].(string); ok && v != "" {
			return v
		}
	}
	if trade.OrderID != "" {
		return trade.OrderID
	}
	return fmt.Sprintf("%s_%.0f_%.2f", position.Symbol, position.Quantity, position.CostBasis)
}

func (m *TradeManager) recordClosedPosition(ctx context.Context, client brokerClient, accountKey string, state *domain.PipelineState, trade *domain.TradeExecution) error {
	neverFilled := trade.OrderID != "" && trade.TradeID == "" &&
		trade.LastSuccessfulCheck == nil && trade.Status != domain.TradeExecFilled &&
		(trade.FilledPrice == nil || *trade.FilledPrice == 0)
	if neverFilled {
		return m.cancelTrade(state, trade, "limit order never filled")
	}

	previouslySeen := trade.LastSuccessfulCheck != nil || trade.Status == domain.TradeExecFilled ||
		(trade.FilledPrice != nil && *trade.FilledPrice > 0)
	if !previouslySeen {
		state.Log("position not found, treating as transient API anomaly")
		return nil
	}

	identifier := trade.TradeID
	if identifier == "" {
		identifier = trade.OrderID
	}
	details, err := client.GetTradeDetails(ctx, accountKey, identifier)
	now := time.Now()
	if err != nil || details == nil || !details.Found || details.State != domain.TradeDetailClosed || details.RealizedPL == nil {
		state.TradeOutcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "broker has no closed-trade record", ClosedAt: &now}
		state.ShouldComplete = true
		return nil
	}

	pnl := *details.RealizedPL
	outcome := &domain.TradeOutcome{Status: domain.OutcomeExecuted, PnL: &pnl, ExitReason: "closed by broker", ClosedAt: &now}
	if details.ClosePrice != nil {
		outcome.ExitPrice = details.ClosePrice
	}
	if details.OpenPrice != 0 {
		entry := details.OpenPrice
		outcome.EntryPrice = &entry
		if entry != 0 {
			pct := pnl / (entry * details.Units)
			outcome.PnLPercent = &pct
		}
	}
	state.TradeOutcome = outcome
	state.ShouldComplete = true
	return nil
}

func (m *TradeManager) handleAPIError(state *domain.PipelineState, trade *domain.TradeExecution, apiErr error) error {
	trade.APIErrorCount++
	trade.LastAPIError = apiErr.Error()

	if trade.APIErrorCount >= apiErrorHardCeiling {
		now := time.Now()
		state.TradeOutcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "communication error ceiling reached", ClosedAt: &now}
		state.ShouldComplete = true
		return nil
	}
	if trade.APIErrorCount >= apiErrorRetryThreshold {
		state.CommunicationError = true
		state.Log(fmt.Sprintf("broker communication error: %s", apiErr))
		return nil
	}
	state.Log(fmt.Sprintf("retrying after broker error: %s", apiErr))
	return nil
}

// findOpenOrder returns the order only while the broker still considers it
// unresolved; a filled, cancelled, or rejected order is not "still open"
// even though it remains in the broker's order history.
func findOpenOrder(orders []domain.Order, orderID string) *domain.Order {
	for i := range orders {
		if orders[i].ID != orderID {
			continue
		}
		switch orders[i].Status {
		case domain.OrderStatusAccepted, domain.OrderStatusPending, domain.OrderStatusPartial:
			return &orders[i]
		}
		return nil
	}
	return nil
}

// brokerClient is the subset of brokers.Client the monitor phase calls,
// narrowed for easy test doubles.
type brokerClient interface {
	GetOrders(ctx context.Context, accountKey string) ([]domain.Order, error)
	GetPosition(ctx context.Context, accountKey, symbol string) (*domain.Position, error)
	CancelOrder(ctx context.Context, accountKey, orderID string) error
	GetQuote(ctx context.Context, accountKey, symbol string) (*domain.BrokerQuote, error)
	GetRecentCandles(ctx context.Context, accountKey, symbol, timeframe string, limit int) ([]domain.Candle, error)
	ClosePosition(ctx context.Context, accountKey, symbol string) (*domain.Order, error)
	GetTradeDetails(ctx context.Context, accountKey, tradeID string) (*domain.TradeDetails, error)
}
