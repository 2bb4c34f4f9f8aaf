package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/store"
)

type stubResolver struct {
	client brokers.Client
	ok     bool
}

func (r stubResolver) Resolve(string) (brokers.Client, bool) { return r.client, r.ok }

func newTestTask(t *testing.T, client brokers.Client) (*Task, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	execs := store.NewExecutions(sqlxDB)
	pipelines := store.NewPipelines(sqlxDB)
	memQueue := queue.NewMemoryQueue()
	manager := queue.NewManager(memQueue, queue.NewHistory(db))
	task := New(execs, pipelines, stubResolver{client: client, ok: client != nil}, manager, nil, zerolog.Nop())
	return task, mock
}

var executionColumns = []string{
	"id", "pipeline_id", "user_id", "signal_id", "mode", "status", "symbol",
	"execution_phase", "failure_reason", "version", "monitor_interval_minutes",
	"next_check_at", "started_at", "completed_at", "pipeline_state",
	"order_id", "trade_id", "api_error_count", "last_successful_check",
	"created_at", "updated_at",
}

func activeExecutionRow(id, symbol string, updatedAt time.Time, nextCheckAt interface{}) []driverValue {
	return []driverValue{
		id, "pipe-1", "user-1", nil, "paper", "MONITORING", symbol,
		"monitoring", nil, 1, 5.0,
		nextCheckAt, nil, nil, nil,
		nil, "trade-1", 0, nil,
		updatedAt.Add(-time.Hour), updatedAt,
	}
}

type driverValue = interface{}

func TestReconcileUser_SkipsRowsWithinGraceWindow(t *testing.T) {
	task, mock := newTestTask(t, brokers.NewStubBroker())
	rows := sqlmock.NewRows(executionColumns).AddRow(activeExecutionRow("exec-1", "AAPL", time.Now(), nil)...)
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("user-1").WillReturnRows(rows)

	err := task.ReconcileUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileUser_NoBrokerResolvedSkipsRow(t *testing.T) {
	task, mock := newTestTask(t, nil)
	rows := sqlmock.NewRows(executionColumns).AddRow(activeExecutionRow("exec-1", "AAPL", time.Now().Add(-10*time.Minute), nil)...)
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("user-1").WillReturnRows(rows)
	mock.ExpectQuery("SELECT broker_account_key FROM pipelines").WillReturnRows(sqlmock.NewRows([]string{"broker_account_key"}).AddRow("acct-1"))

	err := task.ReconcileUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileExecution_ActiveSymbolRecoversStaleChain(t *testing.T) {
	client := brokers.NewStubBroker()
	// Seed a position so HasActiveSymbol reports true.
	_, err := client.PlaceOrder(context.Background(), "acct-1", brokers.OrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 10, Type: "market"})
	require.NoError(t, err)

	task, mock := newTestTask(t, client)
	exec := &domain.Execution{
		ID: "exec-1", PipelineID: "pipe-1", UserID: "user-1", Symbol: "AAPL",
		Status: domain.StatusMonitoring, Version: 1,
		NextCheckAt: nil, UpdatedAt: time.Now().Add(-10 * time.Minute),
	}
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err = task.reconcileExecution(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.NotNil(t, exec.NextCheckAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileExecution_ActiveSymbolFreshChainNoOp(t *testing.T) {
	client := brokers.NewStubBroker()
	_, err := client.PlaceOrder(context.Background(), "acct-1", brokers.OrderRequest{Symbol: "AAPL", Side: "buy", Quantity: 10, Type: "market"})
	require.NoError(t, err)

	task, _ := newTestTask(t, client)
	next := time.Now().Add(4 * time.Minute)
	exec := &domain.Execution{ID: "exec-1", Symbol: "AAPL", NextCheckAt: &next, Version: 1}

	err = task.reconcileExecution(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.Equal(t, &next, exec.NextCheckAt)
}

func TestReconcileClosedPosition_NeverFilledCancels(t *testing.T) {
	client := brokers.NewStubBroker()
	task, mock := newTestTask(t, client)
	exec := &domain.Execution{
		ID: "exec-1", UserID: "user-1", Symbol: "AAPL", Version: 1,
		PipelineState: &domain.PipelineState{
			Symbol:         "AAPL",
			TradeExecution: &domain.TradeExecution{Status: domain.TradeExecAccepted, OrderID: "ord-1"},
		},
	}
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := task.reconcileClosedPosition(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, exec.Status)
	require.Equal(t, domain.OutcomeCancelled, exec.PipelineState.TradeOutcome.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileClosedPosition_FilledWithRealizedPLExecutes(t *testing.T) {
	client := brokers.NewStubBroker()
	pnl := 125.50
	closePrice := 101.5
	client.SetTradeDetails("trade-1", domain.TradeDetails{
		Found: true, State: domain.TradeDetailClosed, RealizedPL: &pnl, ClosePrice: &closePrice,
	})

	task, mock := newTestTask(t, client)
	exec := &domain.Execution{
		ID: "exec-1", UserID: "user-1", Symbol: "AAPL", Version: 1,
		PipelineState: &domain.PipelineState{
			Symbol: "AAPL",
			TradeExecution: &domain.TradeExecution{
				Status: domain.TradeExecFilled, TradeID: "trade-1",
			},
		},
	}
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := task.reconcileClosedPosition(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, exec.Status)
	require.Equal(t, domain.OutcomeExecuted, exec.PipelineState.TradeOutcome.Status)
	require.Equal(t, pnl, *exec.PipelineState.TradeOutcome.PnL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileClosedPosition_BrokerStillOpenNeedsReconciliation(t *testing.T) {
	client := brokers.NewStubBroker()
	client.SetTradeDetails("trade-1", domain.TradeDetails{Found: true, State: domain.TradeDetailOpen})

	task, mock := newTestTask(t, client)
	exec := &domain.Execution{
		ID: "exec-1", UserID: "user-1", Symbol: "AAPL", Version: 1,
		PipelineState: &domain.PipelineState{
			Symbol:         "AAPL",
			TradeExecution: &domain.TradeExecution{Status: domain.TradeExecFilled, TradeID: "trade-1"},
		},
	}
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := task.reconcileClosedPosition(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsReconciliation, exec.Status)
	require.Equal(t, domain.OutcomeNeedsReconciliation, exec.PipelineState.TradeOutcome.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileClosedPosition_TradeNotFoundNeedsReconciliation(t *testing.T) {
	client := brokers.NewStubBroker()
	task, mock := newTestTask(t, client)
	exec := &domain.Execution{
		ID: "exec-1", UserID: "user-1", Symbol: "AAPL", Version: 1,
		PipelineState: &domain.PipelineState{
			Symbol:         "AAPL",
			TradeExecution: &domain.TradeExecution{Status: domain.TradeExecFilled, TradeID: "unknown-trade"},
		},
	}
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := task.reconcileClosedPosition(context.Background(), client, "acct-1", exec)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNeedsReconciliation, exec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMasterTask_FansOutPerUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	execs := store.NewExecutions(sqlxDB)
	memQueue := queue.NewMemoryQueue()
	manager := queue.NewManager(memQueue, queue.NewHistory(db))
	master := NewMasterTask(execs, manager, zerolog.Nop())

	mock.ExpectQuery("SELECT DISTINCT user_id FROM executions").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1").AddRow("user-2"))

	err = master.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, memQueue.Size())
	require.NoError(t, mock.ExpectationsWereMet())
}
