package domain

import "time"

// StrategyResult is the strategy agent's output.
type StrategyResult struct {
	Action          StrategyAction `json:"action"`
	EntryPrice      *float64       `json:"entry_price,omitempty"`
	StopLoss        *float64       `json:"stop_loss,omitempty"`
	TakeProfit      *float64       `json:"take_profit,omitempty"`
	Confidence      float64        `json:"confidence"`
	Reasoning       string         `json:"reasoning,omitempty"`
}

// RiskAssessment is the risk manager agent's output.
type RiskAssessment struct {
	Approved         bool     `json:"approved"`
	PositionSize     float64  `json:"position_size"`
	RiskRewardRatio  float64  `json:"risk_reward_ratio"`
	Reasoning        string   `json:"reasoning,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// OrderType classifies how an order was placed.
type OrderType string

const (
	OrderTypeLimitBracket OrderType = "limit_bracket"
	OrderTypeMarket       OrderType = "market"
)

// TradeExecutionStatus is the lifecycle of a placed order as seen locally.
type TradeExecutionStatus string

const (
	TradeExecSkipped  TradeExecutionStatus = "skipped"
	TradeExecRejected TradeExecutionStatus = "rejected"
	TradeExecNoAction TradeExecutionStatus = "no_action"
	TradeExecAccepted TradeExecutionStatus = "accepted"
	TradeExecPending  TradeExecutionStatus = "pending"
	TradeExecFilled   TradeExecutionStatus = "filled"
	TradeExecPartial  TradeExecutionStatus = "partially_filled"
)

// TradeExecution is the Trade Manager's record of the order it placed (or
// decided not to place) for this execution.
type TradeExecution struct {
	Status              TradeExecutionStatus `json:"status"`
	Reason              string                `json:"reason,omitempty"`
	OrderID             string                `json:"order_id,omitempty"`
	TradeID             string                `json:"trade_id,omitempty"`
	OrderType           OrderType             `json:"order_type,omitempty"`
	FilledPrice         *float64              `json:"filled_price,omitempty"`
	FilledQuantity      *float64              `json:"filled_quantity,omitempty"`
	APIErrorCount       int                   `json:"api_error_count"`
	LastAPIError        string                `json:"last_api_error,omitempty"`
	LastSuccessfulCheck *time.Time            `json:"last_successful_check,omitempty"`
	PlacedAt            *time.Time            `json:"placed_at,omitempty"`
	BrokerResponse      map[string]any        `json:"broker_response,omitempty"`
}

// TradeOutcomeStatus is the terminal disposition of a trade.
type TradeOutcomeStatus string

const (
	OutcomeExecuted            TradeOutcomeStatus = "executed"
	OutcomeCancelled           TradeOutcomeStatus = "cancelled"
	OutcomeNeedsReconciliation TradeOutcomeStatus = "needs_reconciliation"
)

// TradeOutcome is the terminal record of a filled trade's result.
type TradeOutcome struct {
	Status      TradeOutcomeStatus `json:"status"`
	PnL         *float64           `json:"pnl"`
	PnLPercent  *float64           `json:"pnl_percent,omitempty"`
	ExitReason  string             `json:"exit_reason,omitempty"`
	ExitPrice   *float64           `json:"exit_price,omitempty"`
	EntryPrice  *float64           `json:"entry_price,omitempty"`
	ClosedAt    *time.Time         `json:"closed_at,omitempty"`
}

// MarketDataSnapshot is what the market_data_agent attaches to PipelineState.
type MarketDataSnapshot struct {
	CurrentPrice float64              `json:"current_price"`
	Bid          float64              `json:"bid"`
	Ask          float64              `json:"ask"`
	Candles      map[string][]Candle  `json:"candles"` // keyed by timeframe
}

// PipelineState is the in-memory record threaded through the fixed agent
// sequence, and snapshotted into Execution.PipelineState so a
// monitoring task can resume it after a worker restart.
type PipelineState struct {
	Symbol        string                  `json:"symbol"`
	Mode          ExecutionMode           `json:"mode"`
	SignalContext *SignalContext          `json:"signal_context,omitempty"`
	MarketData    *MarketDataSnapshot     `json:"market_data,omitempty"`
	Biases        map[string]Bias         `json:"biases,omitempty"` // keyed by timeframe
	Strategy      *StrategyResult         `json:"strategy,omitempty"`
	Risk          *RiskAssessment         `json:"risk_assessment,omitempty"`
	TradeExecution *TradeExecution        `json:"trade_execution,omitempty"`
	TradeOutcome  *TradeOutcome           `json:"trade_outcome,omitempty"`

	ExecutionPhase        ExecutionPhase `json:"execution_phase"`
	MonitorIntervalMinutes float64       `json:"monitor_interval_minutes"`
	ShouldComplete        bool           `json:"should_complete"`
	CommunicationError    bool           `json:"communication_error"`

	AgentReports  []string       `json:"agent_reports,omitempty"`
	ExecutionLog  []string       `json:"execution_log,omitempty"`
	AgentCosts    map[string]float64 `json:"agent_costs,omitempty"`
}

// Log appends a line to the execution log, mirroring the teacher's pattern
// of keeping a flat, human-readable trail alongside structured fields.
func (s *PipelineState) Log(line string) {
	s.ExecutionLog = append(s.ExecutionLog, line)
}

// Execution is the canonical record of one pipeline run for one ticker.
type Execution struct {
	ID         string          `json:"execution_id" db:"id"`
	PipelineID string          `json:"pipeline_id" db:"pipeline_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	SignalID   *string         `json:"signal_id,omitempty" db:"signal_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Mode       ExecutionMode   `json:"mode" db:"mode"`
	Status     ExecutionStatus `json:"status" db:"status"`
	Phase      ExecutionPhase  `json:"execution_phase" db:"-"`
	Version    int64           `json:"version" db:"version"`

	AgentStates []AgentState `json:"agent_states" db:"-"`

	PipelineState *PipelineState `json:"pipeline_state,omitempty" db:"-"`

	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	MonitorIntervalMinutes float64    `json:"monitor_interval_minutes" db:"-"`
	NextCheckAt            *time.Time `json:"next_check_at,omitempty" db:"-"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"-"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"-"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether this execution counts toward the per-pipeline
// active-execution invariant.
func (e *Execution) IsActive() bool {
	return ActiveStatuses[e.Status]
}

// IsUserActive reports whether this execution counts toward the narrower
// per-user active-trade invariant.
func (e *Execution) IsUserActive() bool {
	return UserActiveStatuses[e.Status]
}
