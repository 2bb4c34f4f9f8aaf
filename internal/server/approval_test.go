package server

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/store"
)

type fakeTradeAgent struct {
	err error
}

func (fakeTradeAgent) Type() domain.AgentType { return domain.AgentTradeManager }

func (a fakeTradeAgent) Process(ctx context.Context, state *domain.PipelineState, config map[string]any) error {
	return a.err
}

func newTestHandler(t *testing.T, agent fakeTradeAgent) (*approvalHandler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return &approvalHandler{
		pipelines: store.NewPipelines(sqlxDB),
		execs:     store.NewExecutions(sqlxDB),
		tradeMgr:  agent,
		log:       zerolog.Nop(),
	}, mock
}

var executionColumnsForApproval = []string{
	"id", "pipeline_id", "user_id", "signal_id", "mode", "status", "symbol",
	"execution_phase", "failure_reason", "version", "monitor_interval_minutes",
	"next_check_at", "started_at", "completed_at", "pipeline_state",
	"order_id", "trade_id", "api_error_count", "last_successful_check",
	"created_at", "updated_at",
}

var pipelineColumnsForApproval = []string{
	"id", "user_id", "name", "status", "mode", "agent_config", "subscriptions",
	"interval_minutes", "requires_approval", "is_active", "broker_account_key",
	"last_run_status", "last_run_at", "version", "created_at", "updated_at",
}

func awaitingExecutionRow(id string) []interface{} {
	return []interface{}{
		id, "pipe-1", "user-1", nil, "paper", "AWAITING_APPROVAL", "AAPL",
		"running", nil, 1, 0.0,
		nil, nil, nil, []byte(`{"symbol":"AAPL"}`),
		nil, nil, 0, nil,
		time.Now(), time.Now(),
	}
}

func pipelineRowFixture(id string) []interface{} {
	return []interface{}{
		id, "user-1", "Momentum", "active", "signal", []byte("{}"), []byte("[]"),
		0.0, true, true, nil,
		nil, nil, 1, time.Now(), time.Now(),
	}
}

func TestHandleApprove_AdvancesToMonitoring(t *testing.T) {
	h, mock := newTestHandler(t, fakeTradeAgent{})
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows(executionColumnsForApproval).AddRow(awaitingExecutionRow("exec-1")...))
	mock.ExpectQuery("SELECT \\* FROM pipelines").WithArgs("pipe-1").
		WillReturnRows(sqlmock.NewRows(pipelineColumnsForApproval).AddRow(pipelineRowFixture("pipe-1")...))
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	r := chi.NewRouter()
	r.Post("/executions/{id}/approve", h.handleApprove)

	req := httptest.NewRequest(http.MethodPost, "/executions/exec-1/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleApprove_NotAwaitingApprovalConflicts(t *testing.T) {
	h, mock := newTestHandler(t, fakeTradeAgent{})
	row := awaitingExecutionRow("exec-1")
	row[5] = "MONITORING"
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows(executionColumnsForApproval).AddRow(row...))

	r := chi.NewRouter()
	r.Post("/executions/{id}/approve", h.handleApprove)

	req := httptest.NewRequest(http.MethodPost, "/executions/exec-1/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleReject_Cancels(t *testing.T) {
	h, mock := newTestHandler(t, fakeTradeAgent{})
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows(executionColumnsForApproval).AddRow(awaitingExecutionRow("exec-1")...))
	mock.ExpectQuery("SELECT \\* FROM pipelines").WithArgs("pipe-1").
		WillReturnRows(sqlmock.NewRows(pipelineColumnsForApproval).AddRow(pipelineRowFixture("pipe-1")...))
	mock.ExpectExec("UPDATE executions SET").WillReturnResult(sqlmock.NewResult(0, 1))

	r := chi.NewRouter()
	r.Post("/executions/{id}/reject", h.handleReject)

	req := httptest.NewRequest(http.MethodPost, "/executions/exec-1/reject", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleApprove_UnknownExecutionNotFound(t *testing.T) {
	h, mock := newTestHandler(t, fakeTradeAgent{})
	mock.ExpectQuery("SELECT \\* FROM executions").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	r := chi.NewRouter()
	r.Post("/executions/{id}/approve", h.handleApprove)

	req := httptest.NewRequest(http.MethodPost, "/executions/missing/approve", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
