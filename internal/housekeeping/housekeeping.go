// Package housekeeping runs the platform's periodic maintenance sweeps:
// launching due periodic pipelines, force-failing executions whose worker
// died mid-run, pruning old terminal executions, and resetting daily
// per-user trading budgets.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

const (
	staleRunningCutoff = 2 * time.Hour
	oldExecutionCutoff = 30 * 24 * time.Hour
)

// Tasks bundles the four housekeeping sweeps behind one type so the
// scheduler and the queue registry can each wire all of them from a single
// constructed value.
type Tasks struct {
	pipelines *store.Pipelines
	execs     *store.Executions
	budgets   *store.Budgets
	manager   *queue.Manager
	log       zerolog.Logger
}

// New builds a Tasks.
func New(pipelines *store.Pipelines, execs *store.Executions, budgets *store.Budgets, manager *queue.Manager, log zerolog.Logger) *Tasks {
	return &Tasks{pipelines: pipelines, execs: execs, budgets: budgets, manager: manager, log: log.With().Str("component", "housekeeping").Logger()}
}

// CheckScheduledPipelines enqueues a pipeline_execution job for every active
// periodic pipeline whose interval has elapsed since its last run.
func (t *Tasks) CheckScheduledPipelines(ctx context.Context) error {
	due, err := t.pipelines.DuePeriodic(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("check scheduled pipelines: %w", err)
	}

	for _, pl := range due {
		tickers, err := t.pipelines.ScannerTickers(ctx, pl.ID)
		if err != nil {
			t.log.Error().Err(err).Str("pipeline_id", pl.ID).Msg("failed to resolve scanner tickers for periodic pipeline")
			continue
		}
		if len(tickers) == 0 {
			t.log.Warn().Str("pipeline_id", pl.ID).Msg("periodic pipeline has no enabled scanner, skipping this cycle")
			continue
		}

		enqueued := 0
		for _, symbol := range tickers {
			job := &queue.Job{
				Type:     queue.JobTypePipelineExecution,
				Priority: queue.PriorityMedium,
				Payload: map[string]interface{}{
					"pipeline_id": pl.ID,
					"user_id":     pl.UserID,
					"symbol":      symbol,
					"mode":        "paper",
				},
			}
			if err := t.manager.Enqueue(job); err != nil {
				t.log.Error().Err(err).Str("pipeline_id", pl.ID).Str("symbol", symbol).Msg("failed to enqueue periodic pipeline run")
				continue
			}
			enqueued++
		}
		if enqueued == 0 {
			continue
		}
		if err := t.pipelines.MarkRun(ctx, pl.ID, "enqueued", time.Now()); err != nil {
			t.log.Error().Err(err).Str("pipeline_id", pl.ID).Msg("failed to record periodic run marker")
		}
	}
	return nil
}

// CleanupStaleRunningExecutions force-fails any execution that has sat in
// RUNNING/PENDING past staleRunningCutoff, the signature of a worker that
// died before it could leave a terminal status behind.
func (t *Tasks) CleanupStaleRunningExecutions(ctx context.Context) error {
	stale, err := t.execs.ListStaleRunning(ctx, time.Now().Add(-staleRunningCutoff))
	if err != nil {
		return fmt.Errorf("list stale running executions: %w", err)
	}

	for _, exec := range stale {
		exec.Status = domain.StatusFailed
		exec.Phase = domain.PhaseCompleted
		exec.FailureReason = "execution stalled past the running timeout with no terminal update"
		now := time.Now()
		exec.CompletedAt = &now
		exec.NextCheckAt = nil
		if err := t.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
			t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to force-fail stale execution")
		}
	}
	return nil
}

// CleanupOldExecutions deletes COMPLETED/FAILED executions older than
// oldExecutionCutoff, keeping the executions table from growing unbounded.
func (t *Tasks) CleanupOldExecutions(ctx context.Context) error {
	removed, err := t.execs.DeleteOldTerminal(ctx, time.Now().Add(-oldExecutionCutoff))
	if err != nil {
		return fmt.Errorf("cleanup old executions: %w", err)
	}
	t.log.Info().Int64("removed", removed).Msg("pruned old terminal executions")
	return nil
}

// ResetDailyBudgets zeroes every user budget whose 24h window has elapsed.
func (t *Tasks) ResetDailyBudgets(ctx context.Context) error {
	reset, err := t.budgets.ResetStale(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("reset daily budgets: %w", err)
	}
	t.log.Info().Int64("reset", reset).Msg("reset stale daily budgets")
	return nil
}

// Handle adapts one of the four sweeps to queue.Handler, dispatching on
// job.Type so all four can share one registry entry point per type.
func (t *Tasks) Handle(job *queue.Job) error {
	ctx := context.Background()
	switch job.Type {
	case queue.JobTypeCheckScheduledPipelines:
		return t.CheckScheduledPipelines(ctx)
	case queue.JobTypeCleanupStaleRunning:
		return t.CleanupStaleRunningExecutions(ctx)
	case queue.JobTypeCleanupOldExecutions:
		return t.CleanupOldExecutions(ctx)
	case queue.JobTypeResetDailyBudgets:
		return t.ResetDailyBudgets(ctx)
	default:
		return fmt.Errorf("housekeeping: unhandled job type %q", job.Type)
	}
}
