// Package reconciliation is the safety net behind the monitoring chain: it
// periodically asks each user's broker directly whether a symbol is still
// active, catching both a monitoring chain that died and a position the
// broker closed without the chain noticing.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

const (
	// graceWindow approximates "just entered MONITORING" using updated_at,
	// since the schema has no dedicated monitoring-entry timestamp: any row
	// touched this recently was either just transitioned into monitoring or
	// just checked by the normal chain, so reconciling it adds no value yet.
	graceWindow          = 3 * time.Minute
	staleChainThreshold  = 2 * time.Minute
	chainRecoveryDelay   = 15 * time.Second
)

// BrokerResolver looks up a broker client by account key, declared
// independently of pipeline.BrokerResolver and trademanager.BrokerResolver
// to keep the three packages free of a shared-import dependency edge.
type BrokerResolver interface {
	Resolve(accountKey string) (brokers.Client, bool)
}

// Notifier delivers best-effort user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any) error
}

// Task reconciles one user's active executions against their broker.
type Task struct {
	execs     *store.Executions
	pipelines *store.Pipelines
	resolver  BrokerResolver
	manager   *queue.Manager
	notifier  Notifier
	log       zerolog.Logger
}

// New builds a Task.
func New(execs *store.Executions, pipelines *store.Pipelines, resolver BrokerResolver, manager *queue.Manager, notifier Notifier, log zerolog.Logger) *Task {
	return &Task{execs: execs, pipelines: pipelines, resolver: resolver, manager: manager, notifier: notifier, log: log.With().Str("component", "reconciliation_task").Logger()}
}

// ReconcileUser reconciles every MONITORING/COMMUNICATION_ERROR execution
// owned by userID, committing one row at a time so a bad row never poisons
// the rest of the batch.
func (t *Task) ReconcileUser(ctx context.Context, userID string) error {
	executions, err := t.execs.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list active executions for user %s: %w", userID, err)
	}

	brokerCache := make(map[string]brokers.Client)
	for _, exec := range executions {
		if time.Since(exec.UpdatedAt) < graceWindow {
			continue
		}

		accountKey, err := t.pipelines.BrokerAccountKey(ctx, exec.PipelineID)
		if err != nil {
			t.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("cannot resolve broker account key, skipping")
			continue
		}
		client, ok := brokerCache[accountKey]
		if !ok {
			client, ok = t.resolver.Resolve(accountKey)
			if !ok {
				t.log.Warn().Str("execution_id", exec.ID).Str("account_key", accountKey).Msg("no broker resolved, skipping")
				continue
			}
			brokerCache[accountKey] = client
		}

		if err := t.reconcileExecution(ctx, client, accountKey, exec); err != nil {
			t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("reconciliation failed for execution")
		}
	}
	return nil
}

func (t *Task) reconcileExecution(ctx context.Context, client brokers.Client, accountKey string, exec *domain.Execution) error {
	active, err := client.HasActiveSymbol(ctx, accountKey, exec.Symbol)
	if err != nil {
		// API error: skip this row, try again next minute.
		t.log.Warn().Err(err).Str("execution_id", exec.ID).Msg("has_active_symbol failed, skipping this pass")
		return nil
	}

	if active {
		return t.recoverChainIfStale(ctx, exec)
	}
	return t.reconcileClosedPosition(ctx, client, accountKey, exec)
}

// recoverChainIfStale re-arms the monitoring chain when the broker still
// shows an active position but next_check_at is missing or stale, the
// signature of a monitoring chain that died mid-flight.
func (t *Task) recoverChainIfStale(ctx context.Context, exec *domain.Execution) error {
	stale := exec.NextCheckAt == nil || time.Since(*exec.NextCheckAt) > staleChainThreshold
	if !stale {
		return nil
	}

	next := time.Now().Add(chainRecoveryDelay)
	exec.NextCheckAt = &next
	if err := t.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
		return fmt.Errorf("rearm monitoring chain for %s: %w", exec.ID, err)
	}
	return t.manager.Enqueue(&queue.Job{
		Type:        queue.JobTypeMonitorExecution,
		Priority:    queue.PriorityHigh,
		Payload:     map[string]interface{}{"execution_id": exec.ID},
		AvailableAt: next,
	})
}

// reconcileClosedPosition determines the execution's outcome using the
// broker as the sole source of truth, since the monitoring chain is gone.
func (t *Task) reconcileClosedPosition(ctx context.Context, client brokers.Client, accountKey string, exec *domain.Execution) error {
	var outcome *domain.TradeOutcome
	status := domain.StatusCompleted

	var trade *domain.TradeExecution
	if exec.PipelineState != nil {
		trade = exec.PipelineState.TradeExecution
	}

	now := time.Now()
	if trade == nil || (trade.Status != domain.TradeExecFilled && trade.Status != domain.TradeExecPartial) {
		zero := 0.0
		outcome = &domain.TradeOutcome{Status: domain.OutcomeCancelled, PnL: &zero, ExitReason: "no active position and no confirmed fill", ClosedAt: &now}
	} else {
		identifier := trade.TradeID
		if identifier == "" {
			identifier = trade.OrderID
		}
		details, err := client.GetTradeDetails(ctx, accountKey, identifier)
		switch {
		case err != nil:
			t.log.Error().Err(err).Str("execution_id", exec.ID).Msg("reconciliation: get_trade_details failed")
			outcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "broker trade lookup failed", ClosedAt: &now}
			status = domain.StatusNeedsReconciliation
		case details == nil || !details.Found:
			outcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "broker has no record of the trade", ClosedAt: &now}
			status = domain.StatusNeedsReconciliation
		case details.State == domain.TradeDetailOpen:
			t.log.Error().Str("execution_id", exec.ID).Msg("reconciliation: broker reports trade open but has_active_symbol said no")
			outcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "broker state inconsistent: trade open but symbol inactive", ClosedAt: &now}
			status = domain.StatusNeedsReconciliation
		case details.RealizedPL == nil:
			outcome = &domain.TradeOutcome{Status: domain.OutcomeNeedsReconciliation, ExitReason: "broker closed trade has no realized P&L", ClosedAt: &now}
			status = domain.StatusNeedsReconciliation
		default:
			pnl := *details.RealizedPL
			outcome = &domain.TradeOutcome{Status: domain.OutcomeExecuted, PnL: &pnl, ExitReason: "reconciled against broker", ClosedAt: &now}
			if details.ClosePrice != nil {
				outcome.ExitPrice = details.ClosePrice
			}
		}
	}

	if exec.PipelineState != nil {
		exec.PipelineState.TradeOutcome = outcome
	}
	exec.Status = status
	exec.Phase = domain.PhaseCompleted
	exec.CompletedAt = &now
	exec.NextCheckAt = nil

	if err := t.execs.CompareAndSwap(ctx, exec, exec.Version); err != nil {
		return fmt.Errorf("commit reconciled execution %s: %w", exec.ID, err)
	}

	if t.notifier != nil {
		_ = t.notifier.Notify(ctx, exec.UserID, "position_closed", map[string]any{
			"execution_id": exec.ID, "symbol": exec.Symbol, "outcome": outcome.Status,
		})
	}
	return nil
}

// Handle adapts ReconcileUser to queue.Handler for JobTypeUserReconciliation.
func (t *Task) Handle(job *queue.Job) error {
	userID, _ := job.Payload["user_id"].(string)
	if userID == "" {
		return fmt.Errorf("user_reconciliation job missing user_id")
	}
	return t.ReconcileUser(context.Background(), userID)
}

// MasterTask fans out one per-user reconciliation job for every user with an
// active execution, isolating a single user's broker outage from the rest.
type MasterTask struct {
	execs   *store.Executions
	manager *queue.Manager
	log     zerolog.Logger
}

// NewMasterTask builds a MasterTask.
func NewMasterTask(execs *store.Executions, manager *queue.Manager, log zerolog.Logger) *MasterTask {
	return &MasterTask{execs: execs, manager: manager, log: log.With().Str("component", "reconciliation_master_task").Logger()}
}

// Run enqueues one user_reconciliation job per user with active trades.
func (m *MasterTask) Run(ctx context.Context) error {
	userIDs, err := m.execs.UsersWithActiveExecutions(ctx)
	if err != nil {
		return fmt.Errorf("list users with active executions: %w", err)
	}
	for _, userID := range userIDs {
		if err := m.manager.Enqueue(&queue.Job{
			Type:     queue.JobTypeUserReconciliation,
			Priority: queue.PriorityMedium,
			Payload:  map[string]interface{}{"user_id": userID},
		}); err != nil {
			m.log.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue user reconciliation")
		}
	}
	return nil
}

// Handle adapts Run to queue.Handler for JobTypeMasterReconciliation.
func (m *MasterTask) Handle(job *queue.Job) error {
	return m.Run(context.Background())
}
