package pipeline

import (
	"context"

	"github.com/aristath/tradepilot/internal/domain"
)

// RiskManagerAgent sizes and approves (or rejects) the strategy's proposed
// trade against a minimum risk/reward ratio and a per-trade risk budget.
// This is the critical agent: any error here always aborts the execution
// rather than being logged and skipped.
type RiskManagerAgent struct{}

// NewRiskManagerAgent builds a RiskManagerAgent.
func NewRiskManagerAgent() *RiskManagerAgent {
	return &RiskManagerAgent{}
}

func (a *RiskManagerAgent) Type() domain.AgentType { return domain.AgentRiskManager }

func (a *RiskManagerAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	if state.Strategy == nil || state.Strategy.Action == domain.ActionHold {
		return &domain.TriggerNotMet{Agent: domain.AgentRiskManager, Detail: "no actionable strategy to size"}
	}
	if state.Strategy.EntryPrice == nil || state.Strategy.StopLoss == nil || state.Strategy.TakeProfit == nil {
		return &domain.InsufficientDataError{Symbol: state.Symbol, Detail: "strategy produced no entry/stop/target"}
	}

	minRR := 1.5
	if v, ok := config["min_risk_reward"].(float64); ok {
		minRR = v
	}
	riskPerTradePct := 0.01
	if v, ok := config["risk_per_trade_pct"].(float64); ok {
		riskPerTradePct = v
	}

	entry, stop, target := *state.Strategy.EntryPrice, *state.Strategy.StopLoss, *state.Strategy.TakeProfit
	riskDistance := absFloat(entry - stop)
	rewardDistance := absFloat(target - entry)
	if riskDistance == 0 {
		return &domain.AgentProcessingError{Agent: domain.AgentRiskManager, Detail: "zero-distance stop loss"}
	}
	rr := rewardDistance / riskDistance

	assessment := &domain.RiskAssessment{
		RiskRewardRatio: rr,
	}

	if rr < minRR {
		assessment.Approved = false
		assessment.Reasoning = "risk/reward below minimum"
		state.Risk = assessment
		return nil
	}

	accountEquity := 100000.0 // conservative default; live wiring overrides via config
	if v, ok := config["account_equity"].(float64); ok {
		accountEquity = v
	}
	riskBudget := accountEquity * riskPerTradePct
	assessment.PositionSize = riskBudget / riskDistance
	assessment.Approved = true
	assessment.Reasoning = "risk/reward and budget within limits"

	state.Risk = assessment
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
