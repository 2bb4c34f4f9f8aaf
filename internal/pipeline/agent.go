// Package pipeline drives the fixed five-agent sequence for a single
// (pipeline, symbol) job: market_data_agent, bias_agent, strategy_agent,
// risk_manager_agent, trade_manager_agent.
package pipeline

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
)

// Agent processes one step of the fixed sequence, mutating state in place.
// A TriggerNotMet error means the agent's precondition did not hold; any
// other error is a processing failure subject to domain.IsAbortingAgentError.
type Agent interface {
	Type() domain.AgentType
	Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error
}
