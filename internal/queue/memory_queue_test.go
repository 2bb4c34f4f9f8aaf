package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_DequeueOrdersByPriorityThenAvailability(t *testing.T) {
	q := NewMemoryQueue()
	now := time.Now()

	require.NoError(t, q.Enqueue(&Job{ID: "low", Priority: PriorityLow, AvailableAt: now}))
	require.NoError(t, q.Enqueue(&Job{ID: "critical-later", Priority: PriorityCritical, AvailableAt: now.Add(time.Millisecond)}))
	require.NoError(t, q.Enqueue(&Job{ID: "critical-earlier", Priority: PriorityCritical, AvailableAt: now}))

	job, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "critical-earlier", job.ID)

	job, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "critical-later", job.ID)

	job, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "low", job.ID)
}

func TestMemoryQueue_DequeueRespectsDeferredDelivery(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(&Job{ID: "future", AvailableAt: time.Now().Add(time.Hour)}))

	_, err := q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.Equal(t, 1, q.Size())
}
