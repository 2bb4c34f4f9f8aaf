package queue

import (
	"time"

	"github.com/google/uuid"
)

// Manager is the single entry point producers use to get work onto the
// queue, combining the raw Queue with job-history-aware scheduling.
type Manager struct {
	queue   Queue
	history *History
}

// NewManager builds a Manager over queue, consulting history to decide
// whether periodic jobs are due.
func NewManager(queue Queue, history *History) *Manager {
	return &Manager{queue: queue, history: history}
}

// Enqueue pushes job onto the underlying queue unconditionally.
func (m *Manager) Enqueue(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = job.CreatedAt
	}
	return m.queue.Enqueue(job)
}

// EnqueueIfShouldRun enqueues a periodic job only if history says it is due,
// and records the attempt so a crashed worker doesn't cause a re-enqueue
// storm on the next scheduler tick.
func (m *Manager) EnqueueIfShouldRun(jobType JobType, priority Priority, interval time.Duration, payload map[string]interface{}) bool {
	if !m.history.ShouldRun(jobType, interval) {
		return false
	}
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Priority:    priority,
		Payload:     payload,
		CreatedAt:   now,
		AvailableAt: now,
		MaxRetries:  3,
	}
	if err := m.queue.Enqueue(job); err != nil {
		return false
	}
	_ = m.history.RecordExecution(jobType, now, "enqueued")
	return true
}

// EnqueueDeferred enqueues job to become ready after delay, implementing the
// monitoring chain's "countdown" requirement.
func (m *Manager) EnqueueDeferred(job *Job, delay time.Duration) error {
	now := time.Now()
	job.CreatedAt = now
	job.AvailableAt = now.Add(delay)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return m.queue.Enqueue(job)
}

// Dequeue pops the next ready job.
func (m *Manager) Dequeue() (*Job, error) {
	return m.queue.Dequeue()
}

// RecordResult writes the outcome of a finished job into history for every
// job type, ignoring any write error.
func (m *Manager) RecordResult(job *Job, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	_ = m.history.RecordExecution(job.Type, time.Now(), status)
}

// Size reports the number of jobs, ready or not, still queued.
func (m *Manager) Size() int {
	return m.queue.Size()
}
