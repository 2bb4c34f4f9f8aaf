package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/pipeline"
	"github.com/aristath/tradepilot/internal/store"
)

// approvalHandler resumes an execution parked in AWAITING_APPROVAL. The
// pipeline executor has no resume path of its own — it always replays the
// full agent sequence from scratch — so this handler drives the one
// remaining step (trade_manager_agent) directly against the execution's
// persisted PipelineState, mirroring the tail of Executor.Run by hand.
type approvalHandler struct {
	pipelines *store.Pipelines
	execs     *store.Executions
	tradeMgr  pipeline.Agent
	log       zerolog.Logger
}

func (h *approvalHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	exec, pl, ok := h.loadAwaiting(w, r.Context(), id)
	if !ok {
		return
	}

	state := exec.PipelineState
	config := pl.AgentConfigs[domain.AgentTradeManager]

	agentState := domain.AgentState{
		AgentID:   fmt.Sprintf("%s-approval", domain.AgentTradeManager),
		AgentType: domain.AgentTradeManager,
		Status:    domain.AgentStatusRunning,
	}
	now := time.Now()
	agentState.StartedAt = &now
	exec.AgentStates = append(exec.AgentStates, agentState)

	procErr := h.tradeMgr.Process(ctx, state, config)
	exec.PipelineState = state
	idx := len(exec.AgentStates) - 1
	completed := time.Now()
	exec.AgentStates[idx].CompletedAt = &completed

	var triggerNotMet *domain.TriggerNotMet
	switch {
	case procErr == nil:
		exec.AgentStates[idx].Status = domain.AgentStatusCompleted
		exec.Status = domain.StatusMonitoring
		exec.Phase = domain.PhaseMonitoring
		exec.MonitorIntervalMinutes = pl.IntervalMinutes

	case errors.As(procErr, &triggerNotMet):
		exec.AgentStates[idx].Status = domain.AgentStatusSkipped
		exec.AgentStates[idx].Error = procErr.Error()
		exec.Status = domain.StatusCompleted
		exec.Phase = domain.PhaseCompleted
		exec.FailureReason = procErr.Error()

	case domain.IsAbortingAgentError(domain.AgentTradeManager, procErr):
		exec.AgentStates[idx].Status = domain.AgentStatusFailed
		exec.AgentStates[idx].Error = procErr.Error()
		exec.Status = domain.StatusFailed
		exec.Phase = domain.PhaseCompleted
		exec.FailureReason = procErr.Error()
		completedAt := time.Now()
		exec.CompletedAt = &completedAt

	default:
		h.log.Warn().Err(procErr).Str("execution_id", exec.ID).Msg("trade manager agent failed after approval, proceeding to monitor")
		exec.AgentStates[idx].Status = domain.AgentStatusFailed
		exec.AgentStates[idx].Error = procErr.Error()
		exec.Status = domain.StatusMonitoring
		exec.Phase = domain.PhaseMonitoring
		exec.MonitorIntervalMinutes = pl.IntervalMinutes
	}

	if err := h.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
		h.log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to commit approved execution")
		http.Error(w, "commit failed", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"execution_id": exec.ID, "status": exec.Status})
}

func (h *approvalHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	exec, _, ok := h.loadAwaiting(w, ctx, id)
	if !ok {
		return
	}

	now := time.Now()
	exec.Status = domain.StatusCancelled
	exec.Phase = domain.PhaseCompleted
	exec.FailureReason = "rejected via manual approval callback"
	exec.CompletedAt = &now
	exec.NextCheckAt = nil

	if err := h.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
		h.log.Error().Err(err).Str("execution_id", exec.ID).Msg("failed to commit rejected execution")
		http.Error(w, "commit failed", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"execution_id": exec.ID, "status": exec.Status})
}

// loadAwaiting loads exec and its pipeline, writing an HTTP error and
// returning ok=false if the execution doesn't exist or isn't paused for
// approval.
func (h *approvalHandler) loadAwaiting(w http.ResponseWriter, ctx context.Context, id string) (*domain.Execution, *domain.Pipeline, bool) {
	exec, err := h.execs.Get(ctx, id)
	if err != nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return nil, nil, false
	}
	if exec.Status != domain.StatusAwaitingApproval {
		http.Error(w, fmt.Sprintf("execution is %s, not awaiting approval", exec.Status), http.StatusConflict)
		return nil, nil, false
	}
	if exec.PipelineState == nil {
		http.Error(w, "execution has no pipeline state to resume", http.StatusInternalServerError)
		return nil, nil, false
	}

	pl, err := h.pipelines.Get(ctx, exec.PipelineID)
	if err != nil {
		http.Error(w, "pipeline not found", http.StatusInternalServerError)
		return nil, nil, false
	}
	return exec, pl, true
}
