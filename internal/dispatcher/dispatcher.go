// Package dispatcher converts broadcast signals into one pipeline execution
// job per matched (pipeline, ticker) pair, without double-triggering an
// already-running execution.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/signalbus"
	"github.com/aristath/tradepilot/internal/store"
)

const (
	defaultCacheRefreshInterval = 30 * time.Second
	defaultBatchSize            = 20
	defaultBatchTimeout         = 500 * time.Millisecond
)

// Dispatcher holds the in-memory pipeline cache and drives the batch
// consume loop for one signal type partition.
type Dispatcher struct {
	pipelines *store.Pipelines
	execs     *store.Executions
	bus       *signalbus.Bus
	manager   *queue.Manager
	log       zerolog.Logger

	CacheRefreshInterval time.Duration
	BatchSize            int
	BatchTimeout         time.Duration

	mu    sync.RWMutex
	cache []*store.CachedPipeline

	cacheErrs int
}

// New builds a Dispatcher with default batching parameters.
func New(pipelines *store.Pipelines, execs *store.Executions, bus *signalbus.Bus, manager *queue.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pipelines:            pipelines,
		execs:                execs,
		bus:                  bus,
		manager:              manager,
		log:                  log.With().Str("component", "dispatcher").Logger(),
		CacheRefreshInterval: defaultCacheRefreshInterval,
		BatchSize:            defaultBatchSize,
		BatchTimeout:         defaultBatchTimeout,
	}
}

// RefreshCache reloads the active signal-triggered pipelines. On failure it
// logs and keeps serving the stale cache.
func (d *Dispatcher) RefreshCache(ctx context.Context) {
	cached, err := d.pipelines.ActiveSignalTriggered(ctx)
	if err != nil {
		d.cacheErrs++
		d.log.Error().Err(err).Int("consecutive_failures", d.cacheErrs).Msg("pipeline cache refresh failed, serving stale cache")
		return
	}
	d.cacheErrs = 0
	d.mu.Lock()
	d.cache = cached
	d.mu.Unlock()
}

func (d *Dispatcher) snapshotCache() []*store.CachedPipeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache
}

// RunCacheRefreshLoop refreshes the pipeline cache on CacheRefreshInterval
// until ctx is cancelled.
func (d *Dispatcher) RunCacheRefreshLoop(ctx context.Context) {
	d.RefreshCache(ctx)
	ticker := time.NewTicker(d.CacheRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RefreshCache(ctx)
		}
	}
}

// Consume batches messages read from bus for signalType and flushes on
// BatchSize or BatchTimeout, acking only after a successful flush.
func (d *Dispatcher) Consume(ctx context.Context, signalType domain.SignalType, consumer string) error {
	if err := d.bus.EnsureGroup(ctx, signalType); err != nil {
		return err
	}
	var batch []signalbus.Message
	timer := time.NewTimer(d.BatchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.processBatch(ctx, batch); err != nil {
			d.log.Error().Err(err).Msg("batch flush failed, leaving offsets uncommitted")
			return
		}
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		if err := d.bus.Ack(ctx, signalType, ids...); err != nil {
			d.log.Error().Err(err).Msg("ack failed after successful flush")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			flush()
			timer.Reset(d.BatchTimeout)
		default:
			msgs, err := d.bus.ReadBatch(ctx, signalType, consumer, d.BatchSize-len(batch), 100*time.Millisecond)
			if err != nil {
				return err
			}
			batch = append(batch, msgs...)
			if len(batch) >= d.BatchSize {
				flush()
				timer.Reset(d.BatchTimeout)
			}
		}
	}
}

type candidate struct {
	pipelineID string
	userID     string
	ticker     string
	confidence float64
	signal     domain.Signal
}

func (d *Dispatcher) processBatch(ctx context.Context, batch []signalbus.Message) error {
	candidates := d.match(batch)
	if len(candidates) == 0 {
		return nil
	}

	pipelineIDs := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, c := range candidates {
		if !seen[c.pipelineID] {
			seen[c.pipelineID] = true
			pipelineIDs = append(pipelineIDs, c.pipelineID)
		}
	}
	active, err := d.execs.PendingOrRunningPipelines(ctx, pipelineIDs)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		if active[c.pipelineID] {
			continue
		}
		job := &queue.Job{
			Type:     queue.JobTypePipelineExecution,
			Priority: queue.PriorityMedium,
			Payload: map[string]interface{}{
				"pipeline_id": c.pipelineID,
				"user_id":     c.userID,
				"symbol":      c.ticker,
				"mode":        "paper",
				"signal_context": domain.SignalContext{
					SignalID:   c.signal.SignalID,
					SignalType: c.signal.Type,
					Source:     c.signal.Source,
					Timestamp:  c.signal.Timestamp,
					Tickers:    []string{c.ticker},
					Confidence: c.confidence,
					Metadata:   c.signal.Metadata,
				},
			},
		}
		if err := d.manager.Enqueue(job); err != nil {
			d.log.Error().Err(err).Str("pipeline_id", c.pipelineID).Str("ticker", c.ticker).Msg("enqueue failed, signal remains unacked")
			return err
		}
	}
	return nil
}

// match implements the dispatcher's three-step matching rule against the
// current pipeline cache for every signal in batch.
func (d *Dispatcher) match(batch []signalbus.Message) []candidate {
	cache := d.snapshotCache()
	var out []candidate

	for _, msg := range batch {
		signal := msg.Signal
		confidenceByTicker := make(map[string]float64, len(signal.Tickers))
		signalTickers := make(map[string]bool, len(signal.Tickers))
		for _, t := range signal.Tickers {
			signalTickers[t.Ticker] = true
			if t.Confidence > confidenceByTicker[t.Ticker] {
				confidenceByTicker[t.Ticker] = t.Confidence
			}
		}

		for _, p := range cache {
			matchedTickers := intersect(signalTickers, p.Tickers)
			if len(matchedTickers) == 0 {
				continue
			}
			if !subscriptionAllows(p.Subscriptions, signal.Type, matchedTickers, confidenceByTicker) {
				continue
			}
			for _, ticker := range matchedTickers {
				pipelineIDs, overridden := signal.RoutingOverride(ticker)
				if overridden && !containsString(pipelineIDs, p.ID) {
					continue
				}
				out = append(out, candidate{
					pipelineID: p.ID,
					userID:     p.UserID,
					ticker:     ticker,
					confidence: confidenceByTicker[ticker],
					signal:     signal,
				})
			}
		}
	}
	return out
}

func intersect(signalTickers map[string]bool, pipelineTickers map[string]bool) []string {
	var out []string
	for t := range signalTickers {
		if pipelineTickers[t] {
			out = append(out, t)
		}
	}
	return out
}

func subscriptionAllows(subs []domain.Subscription, signalType domain.SignalType, matchedTickers []string, confidenceByTicker map[string]float64) bool {
	if len(subs) == 0 {
		return true
	}
	for _, sub := range subs {
		if sub.SignalType != signalType {
			continue
		}
		if sub.MinConfidence == nil {
			return true
		}
		max := 0.0
		for _, t := range matchedTickers {
			if confidenceByTicker[t] > max {
				max = confidenceByTicker[t]
			}
		}
		if max >= *sub.MinConfidence {
			return true
		}
	}
	return false
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
