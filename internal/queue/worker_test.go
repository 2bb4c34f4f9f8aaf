package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessesRegisteredJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO job_history").WillReturnResult(sqlmock.NewResult(1, 1))

	manager := NewManager(NewMemoryQueue(), NewHistory(db))
	registry := NewRegistry()

	var mu sync.Mutex
	var processed []string
	registry.Register(JobTypePipelineExecution, func(j *Job) error {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, j.ID)
		return nil
	})

	pool := NewWorkerPool(manager, registry, 1)
	pool.Start()
	defer pool.Stop()

	require.NoError(t, manager.Enqueue(&Job{ID: "job-1", Type: JobTypePipelineExecution}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerPool_RetriesFailedJobUpToMaxRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("INSERT INTO job_history").WillReturnResult(sqlmock.NewResult(1, 1))

	manager := NewManager(NewMemoryQueue(), NewHistory(db))
	registry := NewRegistry()

	var mu sync.Mutex
	attempts := 0
	registry.Register(JobTypeMonitorExecution, func(j *Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("broker unreachable")
	})

	pool := NewWorkerPool(manager, registry, 1)
	pool.pollInterval = 5 * time.Millisecond
	pool.Start()
	defer pool.Stop()

	require.NoError(t, manager.Enqueue(&Job{ID: "job-2", Type: JobTypeMonitorExecution, MaxRetries: 2}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts == 3 // initial attempt + 2 retries
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, manager.Size())
}
