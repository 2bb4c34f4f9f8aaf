package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

type fakeAgent struct {
	apply func(state *domain.PipelineState)
	err   error
}

func (fakeAgent) Type() domain.AgentType { return domain.AgentTradeManager }

func (a fakeAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	if a.err != nil {
		return a.err
	}
	if a.apply != nil {
		a.apply(state)
	}
	return nil
}

func newTestTask(t *testing.T, agent fakeAgent) (*Task, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	execs := store.NewExecutions(sqlxDB)
	pipelines := store.NewPipelines(sqlxDB)
	memQueue := queue.NewMemoryQueue()
	manager := queue.NewManager(memQueue, queue.NewHistory(db))
	task := New(execs, pipelines, agent, manager, nil, zerolog.Nop())
	return task, mock
}

func TestTask_SkipsWhenNotMonitoring(t *testing.T) {
	task, mock := newTestTask(t, fakeAgent{})
	rows := sqlmock.NewRows([]string{
		"id", "pipeline_id", "user_id", "signal_id", "mode", "status", "symbol",
		"execution_phase", "failure_reason", "version", "monitor_interval_minutes",
		"next_check_at", "started_at", "completed_at", "pipeline_state",
		"order_id", "trade_id", "api_error_count", "last_successful_check",
		"created_at", "updated_at",
	}).AddRow(
		"exec-1", "pipe-1", "user-1", nil, "paper", "COMPLETED", "AAPL",
		"completed", nil, 3, 0.0,
		nil, nil, nil, nil,
		nil, nil, 0, nil,
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("exec-1").WillReturnRows(rows)

	result, err := task.Run(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, "not_monitoring", result.Status)
}

func TestTask_RequiresStateSnapshot(t *testing.T) {
	task, mock := newTestTask(t, fakeAgent{})
	rows := sqlmock.NewRows([]string{
		"id", "pipeline_id", "user_id", "signal_id", "mode", "status", "symbol",
		"execution_phase", "failure_reason", "version", "monitor_interval_minutes",
		"next_check_at", "started_at", "completed_at", "pipeline_state",
		"order_id", "trade_id", "api_error_count", "last_successful_check",
		"created_at", "updated_at",
	}).AddRow(
		"exec-1", "pipe-1", "user-1", nil, "paper", "MONITORING", "AAPL",
		"monitoring", nil, 3, 0.25,
		nil, time.Now(), nil, nil,
		nil, nil, 0, nil,
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("exec-1").WillReturnRows(rows)

	_, err := task.Run(context.Background(), "exec-1")
	require.Error(t, err)
}

func TestHandle_ReschedulesOnFailureInsteadOfErroring(t *testing.T) {
	task, mock := newTestTask(t, fakeAgent{err: errors.New("broker unreachable")})
	mock.ExpectQuery("SELECT \\* FROM executions").WillReturnError(errors.New("connection refused"))

	job := &queue.Job{Type: queue.JobTypeMonitorExecution, Payload: map[string]interface{}{"execution_id": "exec-1"}}
	err := task.Handle(job)
	require.NoError(t, err)
	require.Equal(t, 1, job.Retries)
}

func TestHandle_GivesUpAfterMaxRetries(t *testing.T) {
	task, mock := newTestTask(t, fakeAgent{err: errors.New("broker unreachable")})
	mock.ExpectQuery("SELECT \\* FROM executions").WillReturnError(errors.New("connection refused"))

	job := &queue.Job{Type: queue.JobTypeMonitorExecution, Payload: map[string]interface{}{"execution_id": "exec-1"}, Retries: maxTaskRetries}
	err := task.Handle(job)
	require.Error(t, err)
}

type fakePositionRecorder struct {
	closed   bool
	realized float64
}

func (f *fakePositionRecorder) Close(ctx context.Context, executionID string, realizedPL float64, closedAt time.Time) error {
	f.closed = true
	f.realized = realizedPL
	return nil
}

func TestClosePosition_RecordsRealizedPnL(t *testing.T) {
	task, _ := newTestTask(t, fakeAgent{})
	recorder := &fakePositionRecorder{}
	task.WithPositions(recorder)

	pnl := 42.5
	state := &domain.PipelineState{TradeOutcome: &domain.TradeOutcome{Status: domain.OutcomeExecuted, PnL: &pnl}}
	task.closePosition(context.Background(), &domain.Execution{ID: "exec-1"}, state)

	require.True(t, recorder.closed)
	require.Equal(t, 42.5, recorder.realized)
}

func TestClosePosition_SkipsWhenNoOutcome(t *testing.T) {
	task, _ := newTestTask(t, fakeAgent{})
	recorder := &fakePositionRecorder{}
	task.WithPositions(recorder)

	task.closePosition(context.Background(), &domain.Execution{ID: "exec-1"}, &domain.PipelineState{})
	require.False(t, recorder.closed)
}

func TestEnqueueDueChecks_EnqueuesOnePerDueExecution(t *testing.T) {
	task, mock := newTestTask(t, fakeAgent{})
	rows := sqlmock.NewRows([]string{
		"id", "pipeline_id", "user_id", "signal_id", "mode", "status", "symbol",
		"execution_phase", "failure_reason", "version", "monitor_interval_minutes",
		"next_check_at", "started_at", "completed_at", "pipeline_state",
		"order_id", "trade_id", "api_error_count", "last_successful_check",
		"created_at", "updated_at",
	}).AddRow(
		"exec-1", "pipe-1", "user-1", nil, "paper", "MONITORING", "AAPL",
		"monitoring", nil, 3, 5.0,
		time.Now().Add(-time.Minute), nil, nil, nil,
		nil, nil, 0, nil,
		time.Now(), time.Now(),
	)
	mock.ExpectQuery("SELECT \\* FROM executions").WillReturnRows(rows)

	err := task.EnqueueDueChecks(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
