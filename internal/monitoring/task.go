// Package monitoring runs the Trade Manager's monitor phase as a recurring
// task: load an execution, call the agent, persist the result, and decide
// whether to schedule another check.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/pipeline"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

const (
	maxMonitoringDuration         = 24 * time.Hour
	communicationErrorRetryDelay  = 60 * time.Second
	defaultMonitorIntervalMinutes = 5.0
	maxTaskRetries                = 5
)

// retryBackoff mirrors the task's own best-effort retry schedule, distinct
// from the worker pool's generic per-job retry delay.
var retryBackoff = []time.Duration{
	1 * time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute,
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any) error
}

// Result reports the outcome of one monitoring pass, primarily for logging
// and tests.
type Result struct {
	Status string
}

// PositionRecorder closes out the denormalized positions ledger row a
// pipeline.Executor opened. store.Positions satisfies this directly.
type PositionRecorder interface {
	Close(ctx context.Context, executionID string, realizedPL float64, closedAt time.Time) error
}

// Task drives the monitor-phase harness for one execution.
type Task struct {
	execs     *store.Executions
	pipelines *store.Pipelines
	agent     pipeline.Agent
	manager   *queue.Manager
	notifier  Notifier
	positions PositionRecorder
	log       zerolog.Logger
}

// New builds a Task. agent is the trade manager's monitor-phase adapter
// (trademanager.NewMonitorAgent).
func New(execs *store.Executions, pipelines *store.Pipelines, agent pipeline.Agent, manager *queue.Manager, notifier Notifier, log zerolog.Logger) *Task {
	return &Task{execs: execs, pipelines: pipelines, agent: agent, manager: manager, notifier: notifier, log: log.With().Str("component", "monitoring_task").Logger()}
}

// WithPositions attaches the positions ledger. Optional: callers that never
// set it simply skip closing the denormalized row.
func (t *Task) WithPositions(positions PositionRecorder) *Task {
	t.positions = positions
	return t
}

// Run executes one monitoring pass for executionID.
func (t *Task) Run(ctx context.Context, executionID string) (*Result, error) {
	exec, err := t.execs.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}

	if exec.Status != domain.StatusMonitoring && exec.Status != domain.StatusCommunicationError {
		return &Result{Status: "not_monitoring"}, nil
	}

	reference := exec.CreatedAt
	if exec.StartedAt != nil {
		reference = *exec.StartedAt
	}
	if time.Since(reference) > maxMonitoringDuration {
		exec.Status = domain.StatusFailed
		exec.Phase = domain.PhaseCompleted
		exec.FailureReason = "monitoring exceeded the 24h maximum duration"
		exec.NextCheckAt = nil
		now := time.Now()
		exec.CompletedAt = &now
		if err := t.commit(ctx, exec); err != nil {
			return nil, err
		}
		return &Result{Status: "timeout"}, nil
	}

	if exec.PipelineState == nil {
		return nil, fmt.Errorf("monitoring %s: no pipeline state snapshot to resume from", exec.ID)
	}
	state := exec.PipelineState

	pl, err := t.pipelines.Get(ctx, exec.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("load pipeline %s: %w", exec.PipelineID, err)
	}
	config := pl.AgentConfigs[domain.AgentTradeManager]

	if procErr := t.agent.Process(ctx, state, config); procErr != nil {
		return nil, fmt.Errorf("monitor agent: %w", procErr)
	}
	exec.PipelineState = state

	switch {
	case state.CommunicationError:
		exec.Status = domain.StatusCommunicationError
		next := time.Now().Add(communicationErrorRetryDelay)
		exec.NextCheckAt = &next
	case state.ShouldComplete:
		exec.Status = domain.StatusCompleted
		if state.TradeOutcome != nil && state.TradeOutcome.Status == domain.OutcomeNeedsReconciliation {
			exec.Status = domain.StatusNeedsReconciliation
		}
		exec.Phase = domain.PhaseCompleted
		now := time.Now()
		exec.CompletedAt = &now
		exec.NextCheckAt = nil
	default:
		exec.Status = domain.StatusMonitoring
		interval := state.MonitorIntervalMinutes
		if interval <= 0 {
			interval = defaultMonitorIntervalMinutes
		}
		next := time.Now().Add(time.Duration(interval * float64(time.Minute)))
		exec.NextCheckAt = &next
	}

	if err := t.commit(ctx, exec); err != nil {
		return nil, err
	}

	if state.ShouldComplete {
		t.closePosition(ctx, exec, state)
		t.notifyPositionClosed(ctx, exec, state)
	}

	return &Result{Status: string(exec.Status)}, nil
}

// closePosition is best-effort: the broker remains the source of truth for
// whether a position is actually closed, regardless of whether this ledger
// write succeeds.
func (t *Task) closePosition(ctx context.Context, exec *domain.Execution, state *domain.PipelineState) {
	if t.positions == nil || state.TradeOutcome == nil || state.TradeOutcome.PnL == nil {
		return
	}
	closedAt := time.Now()
	if state.TradeOutcome.ClosedAt != nil {
		closedAt = *state.TradeOutcome.ClosedAt
	}
	if err := t.positions.Close(ctx, exec.ID, *state.TradeOutcome.PnL, closedAt); err != nil {
		t.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("failed to close position ledger row")
	}
}

// commit persists exec via optimistic concurrency. On a version conflict it
// performs a minimal recovery commit: reload, recheck the version, and apply
// only the status, phase, next-check, completion-time and failure-reason
// fields rather than the full state, so a
// concurrent writer's data is never clobbered.
func (t *Task) commit(ctx context.Context, exec *domain.Execution) error {
	err := t.execs.CompareAndSwap(ctx, exec, exec.Version)
	if err == nil {
		return nil
	}
	if err != store.ErrVersionConflict {
		return fmt.Errorf("commit execution %s: %w", exec.ID, err)
	}

	t.log.Warn().Str("execution_id", exec.ID).Msg("version conflict, attempting recovery commit")
	fresh, getErr := t.execs.Get(ctx, exec.ID)
	if getErr != nil {
		return fmt.Errorf("recovery reload execution %s: %w", exec.ID, getErr)
	}
	fresh.Status = exec.Status
	fresh.Phase = exec.Phase
	fresh.NextCheckAt = exec.NextCheckAt
	fresh.CompletedAt = exec.CompletedAt
	fresh.FailureReason = exec.FailureReason
	if recoverErr := t.execs.CompareAndSwap(ctx, fresh, fresh.Version); recoverErr != nil {
		return fmt.Errorf("recovery commit execution %s: %w", exec.ID, recoverErr)
	}
	exec.Version = fresh.Version
	return nil
}

func (t *Task) notifyPositionClosed(ctx context.Context, exec *domain.Execution, state *domain.PipelineState) {
	if t.notifier == nil {
		return
	}
	payload := map[string]any{"symbol": state.Symbol, "execution_id": exec.ID, "status": exec.Status}
	if state.TradeOutcome != nil {
		payload["outcome"] = state.TradeOutcome.Status
		payload["pnl"] = state.TradeOutcome.PnL
	}
	_ = t.notifier.Notify(ctx, exec.UserID, "position_closed", payload)
}

// Handle adapts Run to queue.Handler, implementing the task's own
// exponential-backoff retry schedule instead of the worker pool's generic
// one, since the backoff here must match the spec's 1/2/4/8/16-minute steps.
func (t *Task) Handle(job *queue.Job) error {
	executionID, _ := job.Payload["execution_id"].(string)
	if executionID == "" {
		return fmt.Errorf("monitor_execution job missing execution_id")
	}

	_, err := t.Run(context.Background(), executionID)
	if err == nil {
		return nil
	}

	if job.Retries >= maxTaskRetries {
		t.log.Error().Err(err).Str("execution_id", executionID).Msg("monitoring task exhausted retries")
		return err
	}

	delay := retryBackoff[job.Retries]
	job.Retries++
	t.log.Warn().Err(err).Str("execution_id", executionID).Dur("retry_in", delay).Msg("monitoring task failed, rescheduling")
	if enqueueErr := t.manager.EnqueueDeferred(job, delay); enqueueErr != nil {
		return fmt.Errorf("reschedule monitoring task: %w", enqueueErr)
	}
	return nil
}

// EnqueueDueChecks fans out one monitor_execution job per execution whose
// next_check_at has arrived. Run only sets next_check_at on the execution
// row when it finishes a pass; this sweep is what turns that back into a job.
func (t *Task) EnqueueDueChecks(ctx context.Context) error {
	due, err := t.execs.DueMonitoring(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue due monitoring checks: %w", err)
	}
	for _, exec := range due {
		job := &queue.Job{
			Type:     queue.JobTypeMonitorExecution,
			Priority: queue.PriorityHigh,
			Payload:  map[string]interface{}{"execution_id": exec.ID},
		}
		if err := t.manager.Enqueue(job); err != nil {
			t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to enqueue due monitoring check")
		}
	}
	return nil
}
