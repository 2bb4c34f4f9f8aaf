package queue

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic enqueues (housekeeping, reconciliation,
// check_scheduled_pipelines) using cron expressions. Each cron tick enqueues
// unconditionally through Manager.Enqueue; job history is not consulted.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
}

// NewScheduler builds a Scheduler over manager.
func NewScheduler(manager *Manager) *Scheduler {
	return &Scheduler{manager: manager, cron: cron.New()}
}

// AddPeriodic registers a cron-scheduled enqueue of jobType with payload.
func (s *Scheduler) AddPeriodic(spec string, jobType JobType, priority Priority, payload map[string]interface{}) error {
	_, err := s.cron.AddFunc(spec, func() {
		now := time.Now()
		_ = s.manager.Enqueue(&Job{
			Type:        jobType,
			Priority:    priority,
			Payload:     payload,
			CreatedAt:   now,
			AvailableAt: now,
			MaxRetries:  3,
		})
	})
	return err
}

// Start begins running the cron schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron schedule, waiting for any in-flight entry.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
