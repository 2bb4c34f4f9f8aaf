package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/pipeline"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

// pipelineExecutionHandler adapts pipeline.Executor.Run to queue.Handler: it
// turns a pipeline_execution job (enqueued by the dispatcher on a matched
// signal, or by housekeeping on a due periodic pipeline) into a fresh
// PENDING execution row and runs it to completion or the approval gate.
type pipelineExecutionHandler struct {
	pipelines *store.Pipelines
	execs     *store.Executions
	executor  *pipeline.Executor
	log       zerolog.Logger
}

func (h *pipelineExecutionHandler) Handle(job *queue.Job) error {
	ctx := context.Background()

	pipelineID, _ := job.Payload["pipeline_id"].(string)
	userID, _ := job.Payload["user_id"].(string)
	symbol, _ := job.Payload["symbol"].(string)
	mode, _ := job.Payload["mode"].(string)
	if pipelineID == "" || userID == "" || symbol == "" {
		return fmt.Errorf("pipeline_execution job missing pipeline_id/user_id/symbol")
	}
	if mode == "" {
		mode = string(domain.ModePaper)
	}

	pl, err := h.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return fmt.Errorf("load pipeline %s: %w", pipelineID, err)
	}

	var signalCtx *domain.SignalContext
	if raw, ok := job.Payload["signal_context"]; ok {
		if sc, ok := raw.(domain.SignalContext); ok {
			signalCtx = &sc
		} else if sc, ok := raw.(*domain.SignalContext); ok {
			signalCtx = sc
		}
	}

	now := time.Now()
	exec := &domain.Execution{
		ID:         uuid.NewString(),
		PipelineID: pipelineID,
		UserID:     userID,
		Symbol:     symbol,
		Mode:       domain.ExecutionMode(mode),
		Status:     domain.StatusPending,
		Phase:      domain.PhasePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.execs.Create(ctx, exec); err != nil {
		return fmt.Errorf("create execution for pipeline %s: %w", pipelineID, err)
	}
	exec.Version = 1

	runErr := h.executor.Run(ctx, pipeline.Job{
		PipelineID: pipelineID,
		UserID:     userID,
		Symbol:     symbol,
		Mode:       domain.ExecutionMode(mode),
		Signal:     signalCtx,
	}, exec, pl)
	if runErr != nil {
		h.log.Error().Err(runErr).Str("execution_id", exec.ID).Str("pipeline_id", pipelineID).Msg("pipeline run failed")
		return runErr
	}
	return nil
}
