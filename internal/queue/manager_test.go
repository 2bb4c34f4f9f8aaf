package queue

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(NewMemoryQueue(), NewHistory(db)), mock
}

func TestManager_Enqueue_AssignsIDAndAvailability(t *testing.T) {
	m, _ := newTestManager(t)

	job := &Job{Type: JobTypePipelineExecution, Priority: PriorityHigh}
	err := m.Enqueue(job)

	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.AvailableAt.After(time.Now()))
	assert.Equal(t, 1, m.Size())
}

func TestManager_EnqueueIfShouldRun_SkipsWhenHistorySaysNo(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT last_run_at").WillReturnRows(
		sqlmock.NewRows([]string{"last_run_at"}).AddRow(time.Now()),
	)

	ran := m.EnqueueIfShouldRun(JobTypeCheckScheduledPipelines, PriorityMedium, time.Hour, nil)

	assert.False(t, ran)
	assert.Equal(t, 0, m.Size())
}

func TestManager_EnqueueIfShouldRun_RunsWhenDue(t *testing.T) {
	m, mock := newTestManager(t)

	mock.ExpectQuery("SELECT last_run_at").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO job_history").WillReturnResult(sqlmock.NewResult(1, 1))

	ran := m.EnqueueIfShouldRun(JobTypeCheckScheduledPipelines, PriorityMedium, time.Minute, nil)

	assert.True(t, ran)
	assert.Equal(t, 1, m.Size())
}

func TestManager_Dequeue_ReturnsErrQueueEmptyWhenNoneReady(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestManager_EnqueueDeferred_RespectsCountdown(t *testing.T) {
	m, _ := newTestManager(t)

	job := &Job{Type: JobTypeMonitorExecution}
	require.NoError(t, m.EnqueueDeferred(job, time.Hour))

	_, err := m.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
