package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WorkerPool pulls jobs from a Manager and dispatches them to the handler
// registered for their type, with bounded retry via re-enqueue.
type WorkerPool struct {
	manager    *Manager
	registry   *Registry
	numWorkers int
	log        zerolog.Logger

	pollInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorkerPool builds a pool of numWorkers goroutines draining manager via
// handlers in registry.
func NewWorkerPool(manager *Manager, registry *Registry, numWorkers int) *WorkerPool {
	return &WorkerPool{
		manager:      manager,
		registry:     registry,
		numWorkers:   numWorkers,
		log:          zerolog.Nop(),
		pollInterval: 200 * time.Millisecond,
	}
}

// WithLogger attaches a logger used for per-job start/success/failure lines.
func (p *WorkerPool) WithLogger(log zerolog.Logger) *WorkerPool {
	p.log = log.With().Str("component", "worker_pool").Logger()
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *WorkerPool) Start() {
	p.stop = make(chan struct{})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop signals workers to exit and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			job, err := p.manager.Dequeue()
			if err != nil {
				continue
			}
			p.process(id, job)
		}
	}
}

func (p *WorkerPool) process(workerID int, job *Job) {
	handler, ok := p.registry.Lookup(job.Type)
	if !ok {
		p.log.Error().Str("job_type", string(job.Type)).Msg("no handler registered")
		p.manager.RecordResult(job, fmt.Errorf("no handler for job type %s", job.Type))
		return
	}

	p.log.Debug().Int("worker", workerID).Str("job_id", job.ID).Str("job_type", string(job.Type)).Msg("job started")

	err := handler(job)
	if err == nil {
		p.log.Debug().Str("job_id", job.ID).Msg("job succeeded")
		p.manager.RecordResult(job, nil)
		return
	}

	job.Retries++
	if job.Retries <= job.MaxRetries {
		p.log.Warn().Err(err).Str("job_id", job.ID).Int("retries", job.Retries).Msg("job failed, retrying")
		job.AvailableAt = time.Now().Add(time.Duration(job.Retries) * 200 * time.Millisecond)
		_ = p.manager.Enqueue(job)
		return
	}

	p.log.Error().Err(err).Str("job_id", job.ID).Msg("job failed, retries exhausted")
	p.manager.RecordResult(job, err)
}
