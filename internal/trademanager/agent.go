package trademanager

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
)

// ExecuteAgent adapts TradeManager.Execute to the pipeline.Agent interface so
// it can occupy the trade_manager_agent slot in the fixed sequence.
type ExecuteAgent struct {
	tm *TradeManager
}

// NewExecuteAgent wraps tm for use as the pipeline's trade_manager_agent step.
func NewExecuteAgent(tm *TradeManager) *ExecuteAgent {
	return &ExecuteAgent{tm: tm}
}

func (a *ExecuteAgent) Type() domain.AgentType { return domain.AgentTradeManager }

func (a *ExecuteAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	return a.tm.Execute(ctx, config, state)
}

// MonitorAgent adapts TradeManager.Monitor to the same interface so the
// monitoring task can drive it through a uniform Agent.Process call.
type MonitorAgent struct {
	tm *TradeManager
}

func NewMonitorAgent(tm *TradeManager) *MonitorAgent {
	return &MonitorAgent{tm: tm}
}

func (a *MonitorAgent) Type() domain.AgentType { return domain.AgentTradeManager }

func (a *MonitorAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	return a.tm.Monitor(ctx, config, state)
}
