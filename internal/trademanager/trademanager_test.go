package trademanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
)

type stubResolver struct {
	client brokers.Client
	ok     bool
}

// pendingOrderBroker wraps a StubBroker but reports a single order as still
// pending, letting tests reach evaluatePendingCancel, which StubBroker's
// immediate-fill semantics can never produce directly.
type pendingOrderBroker struct {
	*brokers.StubBroker
	pendingOrderID string
}

func (b *pendingOrderBroker) GetOrders(ctx context.Context, accountKey string) ([]domain.Order, error) {
	return []domain.Order{{ID: b.pendingOrderID, Status: domain.OrderStatusAccepted}}, nil
}

func (r stubResolver) Resolve(string) (brokers.Client, bool) { return r.client, r.ok }

func newTestManager(t *testing.T) (*TradeManager, *brokers.StubBroker) {
	t.Helper()
	b := brokers.NewStubBroker()
	tm := New(stubResolver{client: b, ok: true}, AlwaysOpen{}, NoopNotifier{}, zerolog.Nop())
	return tm, b
}

func buyState(entry, stop, target float64) *domain.PipelineState {
	return &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy, EntryPrice: &entry, StopLoss: &stop, TakeProfit: &target},
		Risk:     &domain.RiskAssessment{Approved: true, PositionSize: 10},
	}
}

func TestExecute_NoRiskAssessmentSkips(t *testing.T) {
	tm, _ := newTestManager(t)
	state := &domain.PipelineState{Symbol: "AAPL"}
	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeExecSkipped, state.TradeExecution.Status)
	assert.True(t, state.ShouldComplete)
}

func TestExecute_HoldIsNoAction(t *testing.T) {
	tm, _ := newTestManager(t)
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionHold},
		Risk:     &domain.RiskAssessment{Approved: true},
	}
	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeExecNoAction, state.TradeExecution.Status)
}

func TestExecute_UnapprovedRiskIsRejected(t *testing.T) {
	tm, _ := newTestManager(t)
	entry, stop, target := 100.0, 98.0, 106.0
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy, EntryPrice: &entry, StopLoss: &stop, TakeProfit: &target},
		Risk:     &domain.RiskAssessment{Approved: false},
	}
	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeExecRejected, state.TradeExecution.Status)
}

func TestExecute_MultipleBrokerToolsFails(t *testing.T) {
	tm, _ := newTestManager(t)
	state := buyState(100, 98, 106)
	config := map[string]any{"alpaca_broker": map[string]any{}, "oanda_broker": map[string]any{}}

	err := tm.Execute(context.Background(), config, state)
	require.Error(t, err)
	var procErr *domain.AgentProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Contains(t, procErr.Error(), "Alpaca")
	assert.Contains(t, procErr.Error(), "Oanda")
	assert.Nil(t, state.TradeExecution)
}

func TestExecute_DuplicatePositionSkips(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	_, err := b.PlaceOrder(context.Background(), "", brokers.OrderRequest{Symbol: "AAPL", Side: domain.OrderBuy, Quantity: 1, Type: domain.BrokerOrderMarket})
	require.NoError(t, err)

	state := buyState(100, 98, 106)
	err = tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeExecSkipped, state.TradeExecution.Status)
	assert.Contains(t, state.TradeExecution.Reason, "duplicate")
}

func TestExecute_MarketClosedSkips(t *testing.T) {
	b := brokers.NewStubBroker()
	tm := New(stubResolver{client: b, ok: true}, closedHours{}, NoopNotifier{}, zerolog.Nop())
	state := buyState(100, 98, 106)
	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeExecSkipped, state.TradeExecution.Status)
	assert.Contains(t, state.TradeExecution.Reason, "closed")
}

type closedHours struct{}

func (closedHours) IsOpen(context.Context, string) (bool, error) { return false, nil }

func TestExecute_PlacesLimitBracketWhenStopAndTargetPresent(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	state := buyState(100, 98, 106)

	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeExecution)
	assert.Equal(t, domain.OrderTypeLimitBracket, state.TradeExecution.OrderType)
	assert.Equal(t, domain.TradeExecFilled, state.TradeExecution.Status)
	assert.NotEmpty(t, state.TradeExecution.OrderID)
	assert.NotEmpty(t, state.TradeExecution.TradeID)
	assert.Equal(t, domain.PhaseMonitoring, state.ExecutionPhase)
}

func TestExecute_PlacesMarketOrderWithoutStopAndTarget(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy},
		Risk:     &domain.RiskAssessment{Approved: true, PositionSize: 5},
	}

	err := tm.Execute(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderTypeMarket, state.TradeExecution.OrderType)
	assert.Equal(t, domain.TradeExecFilled, state.TradeExecution.Status)
}

func TestMonitor_LimitOrderFilledByBrokerKeepsMonitoring(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	order, err := b.PlaceOrder(context.Background(), "", brokers.OrderRequest{Symbol: "AAPL", Side: domain.OrderBuy, Quantity: 1, Type: domain.BrokerOrderLimit})
	require.NoError(t, err)

	placedAt := time.Now().Add(-time.Hour * 10)
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy},
		TradeExecution: &domain.TradeExecution{
			OrderID: order.ID, OrderType: domain.OrderTypeLimitBracket, PlacedAt: &placedAt,
		},
	}
	// StubBroker fills the order immediately, so this exercises the "order
	// no longer open, position now exists" branch.
	err = tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	assert.False(t, state.ShouldComplete)
}

func TestMonitor_PendingOrderPastMaxHoursIsCancelled(t *testing.T) {
	b := &pendingOrderBroker{StubBroker: brokers.NewStubBroker(), pendingOrderID: "order-1"}
	tm := New(stubResolver{client: b, ok: true}, AlwaysOpen{}, NoopNotifier{}, zerolog.Nop())
	placedAt := time.Now().Add(-2 * time.Hour)
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy},
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", PlacedAt: &placedAt,
		},
	}
	err := tm.Monitor(context.Background(), map[string]any{"max_pending_hours": 1.0}, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeCancelled, state.TradeOutcome.Status)
	assert.Contains(t, state.TradeOutcome.ExitReason, "timeout")
}

func TestMonitor_PendingOrderInvalidatedByPriceIsCancelled(t *testing.T) {
	b := &pendingOrderBroker{StubBroker: brokers.NewStubBroker(), pendingOrderID: "order-1"}
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 97})
	tm := New(stubResolver{client: b, ok: true}, AlwaysOpen{}, NoopNotifier{}, zerolog.Nop())
	placedAt := time.Now()
	stop, target := 98.0, 106.0
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy, StopLoss: &stop, TakeProfit: &target},
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", PlacedAt: &placedAt,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeCancelled, state.TradeOutcome.Status)
	assert.Contains(t, state.TradeOutcome.ExitReason, "invalidated")
}

func TestMonitor_PendingOrderWithNoTriggerStaysOpen(t *testing.T) {
	b := &pendingOrderBroker{StubBroker: brokers.NewStubBroker(), pendingOrderID: "order-1"}
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 101})
	tm := New(stubResolver{client: b, ok: true}, AlwaysOpen{}, NoopNotifier{}, zerolog.Nop())
	placedAt := time.Now()
	stop, target := 98.0, 106.0
	state := &domain.PipelineState{
		Symbol:   "AAPL",
		Strategy: &domain.StrategyResult{Action: domain.ActionBuy, StopLoss: &stop, TakeProfit: &target},
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", PlacedAt: &placedAt,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Nil(t, state.TradeOutcome)
	assert.False(t, state.ShouldComplete)
}

func TestMonitor_OrderNeverSeenOnBrokerCancelsAsNeverFilled(t *testing.T) {
	tm, _ := newTestManager(t)
	placedAt := time.Now().Add(-2 * time.Hour)
	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: "missing-order", PlacedAt: &placedAt,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeCancelled, state.TradeOutcome.Status)
	assert.True(t, state.ShouldComplete)
}

func TestMonitor_FilledPositionReportsProgress(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	order, err := b.PlaceOrder(context.Background(), "", brokers.OrderRequest{Symbol: "AAPL", Side: domain.OrderBuy, Quantity: 1, Type: domain.BrokerOrderMarket})
	require.NoError(t, err)

	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: order.ID, TradeID: order.TradeID, Status: domain.TradeExecFilled,
		},
	}
	err = tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	assert.False(t, state.ShouldComplete)
	assert.Nil(t, state.TradeOutcome)
}

func TestMonitor_ClosedPositionWithDetailsRecordsOutcome(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	order, err := b.PlaceOrder(context.Background(), "", brokers.OrderRequest{Symbol: "AAPL", Side: domain.OrderBuy, Quantity: 1, Type: domain.BrokerOrderMarket})
	require.NoError(t, err)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 110})
	_, err = b.ClosePosition(context.Background(), "", "AAPL")
	require.NoError(t, err)

	lastCheck := time.Now().Add(-time.Minute)
	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: order.ID, TradeID: order.TradeID, Status: domain.TradeExecFilled,
			LastSuccessfulCheck: &lastCheck,
		},
	}
	err = tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeExecuted, state.TradeOutcome.Status)
	require.NotNil(t, state.TradeOutcome.PnL)
	assert.Greater(t, *state.TradeOutcome.PnL, 0.0)
	assert.True(t, state.ShouldComplete)
}

func TestMonitor_EmergencyExitSignalClosesPosition(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetQuote("AAPL", domain.BrokerQuote{Last: 100})
	order, err := b.PlaceOrder(context.Background(), "", brokers.OrderRequest{Symbol: "AAPL", Side: domain.OrderBuy, Quantity: 1, Type: domain.BrokerOrderMarket})
	require.NoError(t, err)

	state := &domain.PipelineState{
		Symbol:        "AAPL",
		SignalContext: &domain.SignalContext{SignalType: domain.SignalEmergencyExit},
		TradeExecution: &domain.TradeExecution{
			OrderID: order.ID, TradeID: order.TradeID, Status: domain.TradeExecFilled,
		},
	}
	err = tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeExecuted, state.TradeOutcome.Status)
	assert.Contains(t, state.TradeOutcome.ExitReason, "emergency exit")
	assert.True(t, state.ShouldComplete)
}

func TestMonitor_UnseenClosedPositionIsTransient(t *testing.T) {
	tm, _ := newTestManager(t)
	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", TradeID: "trade-1", Status: domain.TradeExecAccepted,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	assert.Nil(t, state.TradeOutcome)
	assert.False(t, state.ShouldComplete)
}

func TestMonitor_APIErrorsEscalateToCommunicationError(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetError(errors.New("broker unreachable"))
	lastCheck := time.Now().Add(-time.Minute)
	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", TradeID: "trade-1", Status: domain.TradeExecFilled,
			LastSuccessfulCheck: &lastCheck, APIErrorCount: apiErrorRetryThreshold - 1,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	assert.True(t, state.CommunicationError)
	assert.False(t, state.ShouldComplete)
}

func TestMonitor_APIErrorCeilingForcesReconciliation(t *testing.T) {
	tm, b := newTestManager(t)
	b.SetError(errors.New("broker unreachable"))
	lastCheck := time.Now().Add(-time.Minute)
	state := &domain.PipelineState{
		Symbol: "AAPL",
		TradeExecution: &domain.TradeExecution{
			OrderID: "order-1", TradeID: "trade-1", Status: domain.TradeExecFilled,
			LastSuccessfulCheck: &lastCheck, APIErrorCount: apiErrorHardCeiling - 1,
		},
	}
	err := tm.Monitor(context.Background(), nil, state)
	require.NoError(t, err)
	require.NotNil(t, state.TradeOutcome)
	assert.Equal(t, domain.OutcomeNeedsReconciliation, state.TradeOutcome.Status)
	assert.True(t, state.ShouldComplete)
}

func TestAgents_SatisfyPipelineAgentInterface(t *testing.T) {
	tm, _ := newTestManager(t)
	var execAgent interface {
		Type() domain.AgentType
		Process(context.Context, *domain.PipelineState, map[string]any) error
	} = NewExecuteAgent(tm)
	var monitorAgent interface {
		Type() domain.AgentType
		Process(context.Context, *domain.PipelineState, map[string]any) error
	} = NewMonitorAgent(tm)

	assert.Equal(t, domain.AgentTradeManager, execAgent.Type())
	assert.Equal(t, domain.AgentTradeManager, monitorAgent.Type())
}
