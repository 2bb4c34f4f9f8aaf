// Package store holds the sqlx-backed repositories over the OLTP schema:
// pipelines, scanners, executions, positions, and per-user budgets.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aristath/tradepilot/internal/domain"
)

// ErrVersionConflict is returned by the optimistic-concurrency update path
// when the row's version no longer matches what the caller read.
var ErrVersionConflict = errors.New("store: version conflict")

// Executions is the repository for the executions table.
type Executions struct {
	db *sqlx.DB
}

// NewExecutions builds an Executions repository.
func NewExecutions(db *sqlx.DB) *Executions {
	return &Executions{db: db}
}

type executionRow struct {
	ID                     string         `db:"id"`
	PipelineID             string         `db:"pipeline_id"`
	UserID                 string         `db:"user_id"`
	SignalID               sql.NullString `db:"signal_id"`
	Mode                   string         `db:"mode"`
	Status                 string         `db:"status"`
	Symbol                 string         `db:"symbol"`
	ExecutionPhase         string         `db:"execution_phase"`
	FailureReason          sql.NullString `db:"failure_reason"`
	Version                int64          `db:"version"`
	MonitorIntervalMinutes float64        `db:"monitor_interval_minutes"`
	NextCheckAt            sql.NullTime   `db:"next_check_at"`
	StartedAt              sql.NullTime   `db:"started_at"`
	CompletedAt            sql.NullTime   `db:"completed_at"`
	PipelineState          []byte         `db:"pipeline_state"`
	OrderID                sql.NullString `db:"order_id"`
	TradeID                sql.NullString `db:"trade_id"`
	APIErrorCount          int            `db:"api_error_count"`
	LastSuccessfulCheck    sql.NullTime   `db:"last_successful_check"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func (r executionRow) toDomain() (*domain.Execution, error) {
	exec := &domain.Execution{
		ID:                     r.ID,
		PipelineID:             r.PipelineID,
		UserID:                 r.UserID,
		Symbol:                 r.Symbol,
		Mode:                   domain.ExecutionMode(r.Mode),
		Status:                 domain.ExecutionStatus(r.Status),
		Phase:                  domain.ExecutionPhase(r.ExecutionPhase),
		Version:                r.Version,
		MonitorIntervalMinutes: r.MonitorIntervalMinutes,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
	if r.SignalID.Valid {
		exec.SignalID = &r.SignalID.String
	}
	if r.FailureReason.Valid {
		exec.FailureReason = r.FailureReason.String
	}
	if r.NextCheckAt.Valid {
		t := r.NextCheckAt.Time
		exec.NextCheckAt = &t
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		exec.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		exec.CompletedAt = &t
	}
	if len(r.PipelineState) > 0 {
		var state domain.PipelineState
		if err := json.Unmarshal(r.PipelineState, &state); err != nil {
			return nil, fmt.Errorf("unmarshal pipeline_state: %w", err)
		}
		exec.PipelineState = &state
	}
	return exec, nil
}

// Create inserts a new execution row in PENDING/pending phase.
func (e *Executions) Create(ctx context.Context, exec *domain.Execution) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO executions (id, pipeline_id, user_id, signal_id, mode, status, symbol, execution_phase, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now(), now())`,
		exec.ID, exec.PipelineID, exec.UserID, exec.SignalID, exec.Mode, exec.Status, exec.Symbol, exec.Phase)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// Get loads an execution by id.
func (e *Executions) Get(ctx context.Context, id string) (*domain.Execution, error) {
	var row executionRow
	err := e.db.GetContext(ctx, &row, `SELECT * FROM executions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return row.toDomain()
}

// HasActiveForPipelineSymbol implements the per-pipeline+symbol preflight guard.
func (e *Executions) HasActiveForPipelineSymbol(ctx context.Context, pipelineID, symbol string) (bool, error) {
	var count int
	err := e.db.GetContext(ctx, &count, `
		SELECT count(*) FROM executions
		WHERE pipeline_id = $1 AND symbol = $2
		AND status IN ('PENDING', 'RUNNING', 'MONITORING', 'COMMUNICATION_ERROR')`,
		pipelineID, symbol)
	if err != nil {
		return false, fmt.Errorf("check active pipeline+symbol: %w", err)
	}
	return count > 0, nil
}

// HasActiveForUserSymbol implements the per-user+symbol preflight guard.
func (e *Executions) HasActiveForUserSymbol(ctx context.Context, userID, symbol string) (bool, error) {
	var count int
	err := e.db.GetContext(ctx, &count, `
		SELECT count(*) FROM executions
		WHERE user_id = $1 AND symbol = $2
		AND status IN ('MONITORING', 'COMMUNICATION_ERROR')`,
		userID, symbol)
	if err != nil {
		return false, fmt.Errorf("check active user+symbol: %w", err)
	}
	return count > 0, nil
}

// PendingOrRunningPipelines returns the subset of pipelineIDs that already
// have an execution in {PENDING, RUNNING}, for dispatcher dedup.
func (e *Executions) PendingOrRunningPipelines(ctx context.Context, pipelineIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(pipelineIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT pipeline_id FROM executions
		WHERE pipeline_id IN (?) AND status IN ('PENDING', 'RUNNING')`, pipelineIDs)
	if err != nil {
		return nil, fmt.Errorf("build dedup query: %w", err)
	}
	query = e.db.Rebind(query)
	var ids []string
	if err := e.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("query dedup: %w", err)
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}

// CompareAndSwap persists status/phase/state fields and increments version,
// failing with ErrVersionConflict if expectedVersion no longer matches the row.
func (e *Executions) CompareAndSwap(ctx context.Context, exec *domain.Execution, expectedVersion int64) error {
	var stateJSON []byte
	if exec.PipelineState != nil {
		data, err := json.Marshal(exec.PipelineState)
		if err != nil {
			return fmt.Errorf("marshal pipeline_state: %w", err)
		}
		stateJSON = data
	}

	var orderID, tradeID *string
	var apiErrorCount int
	var lastSuccessfulCheck *time.Time
	if exec.PipelineState != nil && exec.PipelineState.TradeExecution != nil {
		te := exec.PipelineState.TradeExecution
		if te.OrderID != "" {
			orderID = &te.OrderID
		}
		if te.TradeID != "" {
			tradeID = &te.TradeID
		}
		apiErrorCount = te.APIErrorCount
		lastSuccessfulCheck = te.LastSuccessfulCheck
	}

	res, err := e.db.ExecContext(ctx, `
		UPDATE executions SET
			status = $1, execution_phase = $2, failure_reason = $3,
			monitor_interval_minutes = $4, next_check_at = $5,
			started_at = $6, completed_at = $7, pipeline_state = $8,
			order_id = $9, trade_id = $10, api_error_count = $11,
			last_successful_check = $12, version = version + 1, updated_at = now()
		WHERE id = $13 AND version = $14`,
		exec.Status, exec.Phase, nullableString(exec.FailureReason),
		exec.MonitorIntervalMinutes, exec.NextCheckAt,
		exec.StartedAt, exec.CompletedAt, stateJSON,
		orderID, tradeID, apiErrorCount,
		lastSuccessfulCheck, exec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("cas update execution %s: %w", exec.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cas rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	exec.Version = expectedVersion + 1
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListActiveByUser returns executions in {MONITORING, COMMUNICATION_ERROR}
// for one user, used by the per-user reconciliation fan-out.
func (e *Executions) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Execution, error) {
	var rows []executionRow
	err := e.db.SelectContext(ctx, &rows, `
		SELECT * FROM executions
		WHERE user_id = $1 AND status IN ('MONITORING', 'COMMUNICATION_ERROR')`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active by user: %w", err)
	}
	return toDomainSlice(rows)
}

// UsersWithActiveExecutions returns distinct user_ids with an execution in
// {MONITORING, COMMUNICATION_ERROR}, for the master reconciliation fan-out.
func (e *Executions) UsersWithActiveExecutions(ctx context.Context) ([]string, error) {
	var ids []string
	err := e.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT user_id FROM executions
		WHERE status IN ('MONITORING', 'COMMUNICATION_ERROR')`)
	if err != nil {
		return nil, fmt.Errorf("list users with active executions: %w", err)
	}
	return ids, nil
}

// DueMonitoring returns MONITORING/COMMUNICATION_ERROR executions whose
// next_check_at has arrived, the set the monitoring sweep re-enqueues a
// monitor_execution job for on every tick.
func (e *Executions) DueMonitoring(ctx context.Context, now time.Time) ([]*domain.Execution, error) {
	var rows []executionRow
	err := e.db.SelectContext(ctx, &rows, `
		SELECT * FROM executions
		WHERE status IN ('MONITORING', 'COMMUNICATION_ERROR')
		AND next_check_at IS NOT NULL AND next_check_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list due monitoring: %w", err)
	}
	return toDomainSlice(rows)
}

// ListStaleRunning returns executions in {RUNNING, PENDING} whose started_at
// (falling back to created_at) predates the cutoff.
func (e *Executions) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Execution, error) {
	var rows []executionRow
	err := e.db.SelectContext(ctx, &rows, `
		SELECT * FROM executions
		WHERE status IN ('RUNNING', 'PENDING')
		AND coalesce(started_at, created_at) < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale running: %w", err)
	}
	return toDomainSlice(rows)
}

// DeleteOldTerminal removes COMPLETED/FAILED rows older than cutoff, returning
// the number of rows removed.
func (e *Executions) DeleteOldTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := e.db.ExecContext(ctx, `
		DELETE FROM executions
		WHERE status IN ('COMPLETED', 'FAILED') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old executions: %w", err)
	}
	return res.RowsAffected()
}

func toDomainSlice(rows []executionRow) ([]*domain.Execution, error) {
	out := make([]*domain.Execution, 0, len(rows))
	for _, r := range rows {
		exec, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}
