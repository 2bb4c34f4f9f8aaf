// Package queue is the in-process job queue that carries pipeline execution
// jobs, monitoring checks, reconciliation fan-out, and housekeeping ticks
// from producers (the dispatcher, the scheduler) to the worker pool.
package queue

import "time"

// JobType names the kind of work a Job carries.
type JobType string

const (
	JobTypePipelineExecution   JobType = "pipeline_execution"
	JobTypeMonitorExecution    JobType = "monitor_execution"
	JobTypeUserReconciliation  JobType = "user_reconciliation"
	JobTypeMasterReconciliation JobType = "master_reconciliation"
	JobTypeCheckScheduledPipelines JobType = "check_scheduled_pipelines"
	JobTypeCleanupStaleRunning  JobType = "cleanup_stale_running_executions"
	JobTypeCleanupOldExecutions JobType = "cleanup_old_executions"
	JobTypeResetDailyBudgets    JobType = "reset_daily_budgets"
	JobTypeCandlePrefetch       JobType = "candle_prefetch"
	JobTypeUniverseRefresh      JobType = "universe_refresh"
	JobTypeEnqueueDueMonitoring JobType = "enqueue_due_monitoring"
)

// Priority orders ready jobs within Dequeue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Job is one unit of work. AvailableAt implements the queue's deferred
// delivery ("countdown") requirement: Dequeue skips jobs not yet due.
type Job struct {
	ID          string
	Type        JobType
	Priority    Priority
	Payload     map[string]interface{}
	CreatedAt   time.Time
	AvailableAt time.Time
	Retries     int
	MaxRetries  int
}

// Queue is the storage contract a Manager drives.
type Queue interface {
	Enqueue(*Job) error
	Dequeue() (*Job, error)
	Size() int
}
