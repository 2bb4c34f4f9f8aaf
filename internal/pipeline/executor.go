package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/store"
)

// Job is what the Trigger Dispatcher (or a manual run) hands the executor.
type Job struct {
	PipelineID string
	UserID     string
	Symbol     string
	Mode       domain.ExecutionMode
	Signal     *domain.SignalContext
}

// Executor drives the fixed agent sequence for one job, persisting progress
// after every step so the UI always observes the real-time phase.
type Executor struct {
	pipelines *store.Pipelines
	execs     *store.Executions
	budgets   *store.Budgets
	brokers   BrokerResolver

	marketData Agent
	bias       Agent
	strategy   Agent
	risk       Agent
	tradeMgr   Agent

	positions PositionRecorder

	log zerolog.Logger
}

// BrokerResolver looks up the broker client for a pipeline's configured
// account, independent of which concrete broker is wired.
type BrokerResolver interface {
	Resolve(accountKey string) (brokers.Client, bool)
}

// PositionRecorder writes the denormalized positions ledger a UI can read
// without parsing pipeline_state JSON. store.Positions satisfies this
// directly; nil is a valid Executor field, in which case positions are
// simply not recorded.
type PositionRecorder interface {
	Open(ctx context.Context, id, executionID, userID, symbol string, side domain.PositionSide, qty, entryPrice float64, stopLoss, takeProfit *float64, brokerOrderID string) error
}

// NewExecutor builds an Executor. tradeMgr is supplied by the trademanager
// package so this package never imports the state machine directly.
func NewExecutor(pipelines *store.Pipelines, execs *store.Executions, budgets *store.Budgets, resolver BrokerResolver, marketData, bias, strategy, risk, tradeMgr Agent, log zerolog.Logger) *Executor {
	return &Executor{
		pipelines: pipelines, execs: execs, budgets: budgets, brokers: resolver,
		marketData: marketData, bias: bias, strategy: strategy, risk: risk, tradeMgr: tradeMgr,
		log: log.With().Str("component", "pipeline_executor").Logger(),
	}
}

// WithPositions attaches the positions ledger. Optional: callers that never
// set it simply skip position recording.
func (e *Executor) WithPositions(positions PositionRecorder) *Executor {
	e.positions = positions
	return e
}

// sequence returns the five agents in their fixed order, skipping any that
// were never supplied (unknown/tool nodes in the original pipeline graph).
func (e *Executor) sequence() []Agent {
	all := []Agent{e.marketData, e.bias, e.strategy, e.risk, e.tradeMgr}
	out := make([]Agent, 0, len(all))
	for _, a := range all {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Run executes job end to end: preflight, market data, the agent loop, and
// the approval gate. exec must already exist in PENDING with Version set.
func (e *Executor) Run(ctx context.Context, job Job, exec *domain.Execution, pipeline *domain.Pipeline) error {
	logger := e.log.With().Str("execution_id", exec.ID).Str("pipeline_id", job.PipelineID).Str("symbol", job.Symbol).Logger()

	skip, reason, err := e.preflight(ctx, job, pipeline)
	if err != nil {
		return err
	}
	if skip {
		exec.Status = domain.StatusCompleted
		exec.Phase = domain.PhaseCompleted
		exec.FailureReason = reason
		return e.commit(ctx, exec)
	}

	exec.Status = domain.StatusRunning
	exec.Phase = domain.PhaseRunning
	if err := e.commit(ctx, exec); err != nil {
		return err
	}

	state := &domain.PipelineState{
		Symbol: job.Symbol,
		Mode:   job.Mode,
	}
	if job.Signal != nil {
		state.SignalContext = job.Signal
	}
	exec.PipelineState = state

	configs := pipeline.AgentConfigs
	mergedTimeframes := unionTimeframes(configs)

	agents := e.sequence()
	for i, agent := range agents {
		agentType := agent.Type()
		agentState := &domain.AgentState{AgentID: fmt.Sprintf("%s-%d", agentType, i), AgentType: agentType, Status: domain.AgentStatusRunning}
		now := time.Now()
		agentState.StartedAt = &now
		exec.AgentStates = append(exec.AgentStates, *agentState)
		if err := e.commit(ctx, exec); err != nil {
			return err
		}

		cfg := configs[agentType]
		if agentType == domain.AgentMarketData {
			cfg = mergeTimeframes(cfg, mergedTimeframes)
		}

		procErr := e.runAgentWithRetry(ctx, agent, state, cfg)
		idx := len(exec.AgentStates) - 1
		completed := time.Now()
		exec.AgentStates[idx].CompletedAt = &completed

		var triggerNotMet *domain.TriggerNotMet
		switch {
		case procErr == nil:
			exec.AgentStates[idx].Status = domain.AgentStatusCompleted
			if agentType == domain.AgentTradeManager {
				e.recordOpenedPosition(ctx, exec, state)
			}
			if err := e.commit(ctx, exec); err != nil {
				return err
			}

		case errors.As(procErr, &triggerNotMet):
			exec.AgentStates[idx].Status = domain.AgentStatusSkipped
			exec.AgentStates[idx].Error = procErr.Error()
			for j := idx + 1; j < len(agents); j++ {
				exec.AgentStates = append(exec.AgentStates, domain.AgentState{
					AgentID: fmt.Sprintf("%s-%d", agents[j].Type(), j), AgentType: agents[j].Type(), Status: domain.AgentStatusSkipped,
				})
			}
			exec.Status = domain.StatusCompleted
			exec.Phase = domain.PhaseCompleted
			exec.FailureReason = procErr.Error()
			return e.commit(ctx, exec)

		case domain.IsAbortingAgentError(agentType, procErr):
			exec.AgentStates[idx].Status = domain.AgentStatusFailed
			exec.AgentStates[idx].Error = procErr.Error()
			exec.Status = domain.StatusFailed
			exec.FailureReason = procErr.Error()
			logger.Error().Err(procErr).Str("agent", string(agentType)).Msg("aborting agent error, failing execution")
			return e.commit(ctx, exec)

		default:
			exec.AgentStates[idx].Status = domain.AgentStatusFailed
			exec.AgentStates[idx].Error = procErr.Error()
			logger.Warn().Err(procErr).Str("agent", string(agentType)).Msg("non-critical agent error, continuing")
			if err := e.commit(ctx, exec); err != nil {
				return err
			}
			continue
		}

		if agentType == domain.AgentRiskManager && pipeline.RequiresApproval && approvedNonHold(state) {
			exec.Status = domain.StatusAwaitingApproval
			exec.Phase = domain.PhaseRunning
			return e.commit(ctx, exec)
		}
	}

	exec.Status = domain.StatusMonitoring
	exec.Phase = domain.PhaseMonitoring
	exec.MonitorIntervalMinutes = pipeline.IntervalMinutes
	return e.commit(ctx, exec)
}

func approvedNonHold(state *domain.PipelineState) bool {
	return state.Strategy != nil && state.Strategy.Action != domain.ActionHold &&
		state.Risk != nil && state.Risk.Approved
}

// preflight runs the three ordered guards plus the budget check. skip=true
// means the caller should mark the execution COMPLETED with reason set.
func (e *Executor) preflight(ctx context.Context, job Job, pipeline *domain.Pipeline) (skip bool, reason string, err error) {
	activePipeline, err := e.execs.HasActiveForPipelineSymbol(ctx, job.PipelineID, job.Symbol)
	if err != nil {
		return false, "", fmt.Errorf("per-pipeline+symbol guard: %w", err)
	}
	if activePipeline {
		return true, "an execution for this pipeline and symbol is already active", nil
	}

	activeUser, err := e.execs.HasActiveForUserSymbol(ctx, job.UserID, job.Symbol)
	if err != nil {
		return false, "", fmt.Errorf("per-user+symbol guard: %w", err)
	}
	if activeUser {
		return true, "an active trade for this user and symbol already exists", nil
	}

	if key := accountKey(pipeline); key != "" {
		if client, ok := e.brokers.Resolve(key); ok {
			active, err := client.HasActiveSymbol(ctx, key, job.Symbol)
			if err != nil {
				e.log.Warn().Err(err).Str("account_key", key).Msg("broker has_active_symbol check failed, proceeding fail-open")
			} else if active {
				return true, "skipped: broker already holds an active position for this symbol", nil
			}
		}
	}

	budget, err := e.budgets.Get(ctx, job.UserID)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", job.UserID).Msg("budget lookup failed, proceeding without a budget check")
	} else if budget != nil && budget.Exceeded() {
		return true, "skipped: daily budget exceeded", nil
	}

	return false, "", nil
}

// recordOpenedPosition writes a row to the positions ledger the first time
// the trade manager's Execute phase places an order that the broker
// accepted, as opposed to skipping, rejecting, or holding. Best-effort: a
// ledger write failure is logged and never fails the execution, since the
// broker-side position is the source of truth the monitor phase reconciles
// against regardless.
func (e *Executor) recordOpenedPosition(ctx context.Context, exec *domain.Execution, state *domain.PipelineState) {
	if e.positions == nil || state.TradeExecution == nil || state.Strategy == nil {
		return
	}
	trade := state.TradeExecution
	switch trade.Status {
	case domain.TradeExecFilled, domain.TradeExecPartial, domain.TradeExecAccepted, domain.TradeExecPending:
	default:
		return
	}

	side := domain.PositionLong
	if state.Strategy.Action == domain.ActionSell {
		side = domain.PositionShort
	}
	entryPrice := trade.FilledPrice
	if entryPrice == nil && state.Strategy.EntryPrice != nil {
		entryPrice = state.Strategy.EntryPrice
	}
	var qty float64
	if trade.FilledQuantity != nil {
		qty = *trade.FilledQuantity
	} else if state.Risk != nil {
		qty = state.Risk.PositionSize
	}
	price := 0.0
	if entryPrice != nil {
		price = *entryPrice
	}

	if err := e.positions.Open(ctx, uuid.NewString(), exec.ID, exec.UserID, state.Symbol, side, qty, price, state.Strategy.StopLoss, state.Strategy.TakeProfit, trade.OrderID); err != nil {
		e.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("failed to record opened position")
	}
}

func accountKey(pipeline *domain.Pipeline) string {
	if pipeline == nil {
		return ""
	}
	if v, ok := pipeline.AgentConfigs[domain.AgentTradeManager]["broker_account_key"].(string); ok {
		return v
	}
	return ""
}

// runAgentWithRetry retries only the market_data_agent step, per the
// executor's documented failure semantics for the synchronous market data
// fetch; every other agent runs once.
func (e *Executor) runAgentWithRetry(ctx context.Context, agent Agent, state *domain.PipelineState, config map[string]any) error {
	if agent.Type() != domain.AgentMarketData {
		return agent.Process(ctx, state, config)
	}

	var lastErr error
	delays := []time.Duration{0, time.Second, 2 * time.Second}
	for _, delay := range delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := agent.Process(ctx, state, config); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("market data fetch failed after retries: %w", lastErr)
}

func (e *Executor) commit(ctx context.Context, exec *domain.Execution) error {
	if err := e.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
		return fmt.Errorf("commit execution %s: %w", exec.ID, err)
	}
	return nil
}

func unionTimeframes(configs map[domain.AgentType]map[string]any) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cfg := range configs {
		raw, ok := cfg["timeframes"].([]any)
		if !ok {
			continue
		}
		for _, v := range raw {
			if s, ok := v.(string); ok && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func mergeTimeframes(cfg map[string]any, union []string) map[string]any {
	if len(union) == 0 {
		return cfg
	}
	merged := make(map[string]any, len(cfg)+1)
	for k, v := range cfg {
		merged[k] = v
	}
	tfs := make([]any, len(union))
	for i, tf := range union {
		tfs[i] = tf
	}
	merged["timeframes"] = tfs
	return merged
}
