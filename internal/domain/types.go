// Package domain holds the data model shared by every service: pipelines,
// executions, the in-flight pipeline state, signals, and the broker-facing
// position/order records. Types favor sum-type-shaped enums (named string
// constants) over free-form strings; the enums have no validation method.
package domain

import "time"

// TriggerMode selects how a pipeline is scheduled.
type TriggerMode string

const (
	TriggerSignal   TriggerMode = "signal"
	TriggerPeriodic TriggerMode = "periodic"
)

// ExecutionMode selects how seriously an execution's orders are taken.
type ExecutionMode string

const (
	ModeLive       ExecutionMode = "live"
	ModePaper      ExecutionMode = "paper"
	ModeSimulation ExecutionMode = "simulation"
	ModeValidation ExecutionMode = "validation"
)

// ExecutionStatus is the authoritative state of an Execution row.
type ExecutionStatus string

const (
	StatusPending              ExecutionStatus = "PENDING"
	StatusRunning              ExecutionStatus = "RUNNING"
	StatusMonitoring           ExecutionStatus = "MONITORING"
	StatusCompleted            ExecutionStatus = "COMPLETED"
	StatusFailed               ExecutionStatus = "FAILED"
	StatusCancelled            ExecutionStatus = "CANCELLED"
	StatusPaused               ExecutionStatus = "PAUSED"
	StatusCommunicationError   ExecutionStatus = "COMMUNICATION_ERROR"
	StatusNeedsReconciliation  ExecutionStatus = "NEEDS_RECONCILIATION"
	StatusAwaitingApproval     ExecutionStatus = "AWAITING_APPROVAL"
)

// ActiveStatuses is the set tracked by the at-most-one-active invariant for
// (pipeline_id, symbol).
var ActiveStatuses = map[ExecutionStatus]bool{
	StatusPending:            true,
	StatusRunning:            true,
	StatusMonitoring:         true,
	StatusCommunicationError: true,
}

// UserActiveStatuses is the narrower set tracked per (user_id, symbol).
var UserActiveStatuses = map[ExecutionStatus]bool{
	StatusMonitoring:         true,
	StatusCommunicationError: true,
}

// ExecutionPhase tracks where in the agent/monitor lifecycle an execution is.
type ExecutionPhase string

const (
	PhasePending             ExecutionPhase = "pending"
	PhaseRunning             ExecutionPhase = "running"
	PhaseMonitoring          ExecutionPhase = "monitoring"
	PhaseCompleted           ExecutionPhase = "completed"
	PhaseNeedsReconciliation ExecutionPhase = "needs_reconciliation"
)

// AgentType names a node in the fixed agent sequence.
type AgentType string

const (
	AgentMarketData   AgentType = "market_data_agent"
	AgentBias         AgentType = "bias_agent"
	AgentStrategy     AgentType = "strategy_agent"
	AgentRiskManager  AgentType = "risk_manager_agent"
	AgentTradeManager AgentType = "trade_manager_agent"
)

// AgentSequence is the fixed order the executor runs agents in, regardless
// of how the pipeline config orders its nodes.
var AgentSequence = []AgentType{
	AgentMarketData,
	AgentBias,
	AgentStrategy,
	AgentRiskManager,
	AgentTradeManager,
}

// CriticalAgents never get a "log and continue" on failure.
var CriticalAgents = map[AgentType]bool{
	AgentRiskManager: true,
}

// AgentStatus is the per-agent status within agent_states.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusSkipped   AgentStatus = "skipped"
	AgentStatusFailed    AgentStatus = "failed"
)

// Bias is the directional read an upstream agent assigns to a timeframe.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// StrategyAction is what the strategy agent decided to do.
type StrategyAction string

const (
	ActionBuy   StrategyAction = "BUY"
	ActionSell  StrategyAction = "SELL"
	ActionHold  StrategyAction = "HOLD"
	ActionClose StrategyAction = "CLOSE" // valid, currently unused by any detector
)

// SignalType names the detector that produced a Signal.
type SignalType string

const (
	SignalGoldenCross             SignalType = "golden_cross"
	SignalBreakOfStructureBullish SignalType = "break_of_structure_bullish"
	SignalBreakOfStructureBearish SignalType = "break_of_structure_bearish"
	SignalLiquidityGrab           SignalType = "liquidity_grab"
	SignalFVGFormation            SignalType = "fvg_formation"
	SignalEmergencyExit           SignalType = "emergency_exit"
)

// SignalBias is the per-ticker directional read carried in a Signal.
type SignalBias string

const (
	SignalBullish SignalBias = "BULLISH"
	SignalBearish SignalBias = "BEARISH"
	SignalNeutral SignalBias = "NEUTRAL"
)

// AgentState records the lifecycle of one agent within one execution.
type AgentState struct {
	AgentID     string      `json:"agent_id"`
	AgentType   AgentType   `json:"agent_type"`
	Status      AgentStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Cost        float64     `json:"cost"`
}

// Subscription filters which signal types a signal-triggered pipeline reacts
// to, and at what confidence.
type Subscription struct {
	SignalType    SignalType `json:"signal_type"`
	MinConfidence *float64   `json:"min_confidence,omitempty"`
}

// Pipeline is a user-owned configuration for a fixed agent sequence.
type Pipeline struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	Name           string         `json:"name" db:"name"`
	Mode           TriggerMode    `json:"mode" db:"-"`
	ScannerID      string         `json:"scanner_id,omitempty" db:"-"`
	Subscriptions  []Subscription `json:"subscriptions,omitempty" db:"-"`
	AgentConfigs   map[AgentType]map[string]any `json:"agent_configs" db:"-"`
	IntervalMinutes float64       `json:"interval_minutes,omitempty" db:"-"`
	RequiresApproval bool         `json:"requires_approval" db:"-"`
	IsActive       bool           `json:"is_active" db:"-"`
	Version        int64          `json:"version" db:"version"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Scanner is a named, user-owned, read-only set of ticker symbols.
type Scanner struct {
	ID         string   `json:"id" db:"id"`
	PipelineID string   `json:"pipeline_id" db:"pipeline_id"`
	Tickers    []string `json:"tickers" db:"-"`
	Timeframe  string   `json:"timeframe" db:"timeframe"`
}

// SignalTickerEntry is one ticker's directional read within a Signal.
type SignalTickerEntry struct {
	Ticker     string     `json:"ticker"`
	Bias       SignalBias `json:"signal"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Signal is a broadcast event carrying one or more ticker entries.
type Signal struct {
	SignalID  string              `json:"signal_id"`
	Type      SignalType          `json:"signal_type"`
	Source    string              `json:"source"`
	Timestamp time.Time           `json:"timestamp"`
	Tickers   []SignalTickerEntry `json:"tickers"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
}

// RoutingOverride reads metadata.ticker_pipelines[ticker], used by the
// dispatcher to restrict which pipelines may react to a ticker.
func (s Signal) RoutingOverride(ticker string) ([]string, bool) {
	if s.Metadata == nil {
		return nil, false
	}
	raw, ok := s.Metadata["ticker_pipelines"]
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	entries, ok := m[ticker]
	if !ok {
		return nil, false
	}
	list, ok := entries.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, e := range list {
		if em, ok := e.(map[string]any); ok {
			if id, ok := em["pipeline_id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, true
}

// SignalContext is what the dispatcher attaches to an enqueued job so the
// executor knows which signal triggered it.
type SignalContext struct {
	SignalID   string         `json:"signal_id"`
	SignalType SignalType     `json:"signal_type"`
	Source     string         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	Tickers    []string       `json:"tickers"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Candle is one OHLCV bar. 1-minute candles are the only raw rows; every
// other timeframe is a materialized aggregate.
type Candle struct {
	Ticker    string    `json:"ticker" db:"symbol"`
	Timeframe string    `json:"timeframe" db:"timeframe"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// Quote is a point-in-time price snapshot for a ticker.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"current_price"`
	Bid           float64   `json:"bid"`
	Ask           float64   `json:"ask"`
	Spread        float64   `json:"spread"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previous_close"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// IndicatorCacheEntry is a cached indicator series keyed by
// (ticker, timeframe, indicator_name, params).
type IndicatorCacheEntry struct {
	Ticker    string    `json:"ticker"`
	Timeframe string    `json:"timeframe"`
	Name      string    `json:"name"`
	Params    string    `json:"params"`
	Series    []float64 `json:"series"`
	ExpiresAt time.Time `json:"expires_at"`
}
