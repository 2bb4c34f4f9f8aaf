package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrQueueEmpty is returned by Dequeue when there is nothing ready to run.
var ErrQueueEmpty = errors.New("queue: empty")

// MemoryQueue is an in-process priority queue with deferred delivery. It
// backs a single worker-pool process; it is not durable across restarts.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []*Job
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends a job.
func (q *MemoryQueue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// Dequeue returns the highest-priority job whose AvailableAt has passed,
// breaking ties by earliest AvailableAt. Returns ErrQueueEmpty if none is
// ready yet, even if the queue holds jobs scheduled for later.
func (q *MemoryQueue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var ready []int
	for i, j := range q.jobs {
		if !j.AvailableAt.After(now) {
			ready = append(ready, i)
		}
	}
	if len(ready) == 0 {
		return nil, ErrQueueEmpty
	}

	sort.Slice(ready, func(a, b int) bool {
		ja, jb := q.jobs[ready[a]], q.jobs[ready[b]]
		if ja.Priority != jb.Priority {
			return ja.Priority > jb.Priority
		}
		return ja.AvailableAt.Before(jb.AvailableAt)
	})

	idx := ready[0]
	job := q.jobs[idx]
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
	return job, nil
}

// Size returns the total number of jobs still queued, ready or not.
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
