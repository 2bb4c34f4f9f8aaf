package queue

import (
	"database/sql"
	"time"
)

// History tracks the last run of each periodic JobType in the OLTP store,
// so Manager.EnqueueIfShouldRun can decide whether a job is due.
type History struct {
	db *sql.DB
}

// NewHistory wraps a *sql.DB for job-history bookkeeping.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// ShouldRun reports whether jobType has not run within interval. It fails
// open (returns true) on any read error so a history-table outage does not
// silently stop scheduled work.
func (h *History) ShouldRun(jobType JobType, interval time.Duration) bool {
	var lastRunAt time.Time
	err := h.db.QueryRow(`SELECT last_run_at FROM job_history WHERE job_type = $1`, string(jobType)).Scan(&lastRunAt)
	if err != nil {
		return true
	}
	return time.Since(lastRunAt) >= interval
}

// RecordExecution upserts the last-run timestamp and status for jobType.
func (h *History) RecordExecution(jobType JobType, timestamp time.Time, status string) error {
	_, err := h.db.Exec(`
		INSERT INTO job_history (job_type, last_run_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_type) DO UPDATE SET last_run_at = $2, status = $3
	`, string(jobType), timestamp, status)
	return err
}
