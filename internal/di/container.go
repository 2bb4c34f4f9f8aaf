// Package di wires every component into a running process: it owns no
// business logic of its own, only construction order and the few adapters
// (BrokerResolver, MarketHours, Notifier) needed to satisfy interfaces that
// different packages declare independently to avoid import cycles.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/cache"
	"github.com/aristath/tradepilot/internal/clients/providers"
	"github.com/aristath/tradepilot/internal/config"
	"github.com/aristath/tradepilot/internal/database"
	"github.com/aristath/tradepilot/internal/dataplane"
	"github.com/aristath/tradepilot/internal/dispatcher"
	"github.com/aristath/tradepilot/internal/domain"
	"github.com/aristath/tradepilot/internal/housekeeping"
	"github.com/aristath/tradepilot/internal/monitoring"
	"github.com/aristath/tradepilot/internal/pipeline"
	"github.com/aristath/tradepilot/internal/queue"
	"github.com/aristath/tradepilot/internal/reconciliation"
	"github.com/aristath/tradepilot/internal/server"
	"github.com/aristath/tradepilot/internal/signalbus"
	"github.com/aristath/tradepilot/internal/signalgen"
	"github.com/aristath/tradepilot/internal/store"
	"github.com/aristath/tradepilot/internal/trademanager"
)

// Container holds every long-lived component the process needs to start and
// stop cleanly.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *database.DB
	Cache *cache.Cache

	Queue      queue.Queue
	Manager    *queue.Manager
	Registry   *queue.Registry
	Workers    *queue.WorkerPool
	Scheduler  *queue.Scheduler

	SignalBus  *signalbus.Bus
	Dispatcher *dispatcher.Dispatcher
	SignalGen  *signalgen.Service
	Universe   *dataplane.Universe
	DataPlane  *dataplane.Service

	Monitoring     *monitoring.Task
	Reconciliation *reconciliation.Task
	MasterRecon    *reconciliation.MasterTask
	Housekeeping   *housekeeping.Tasks

	Server *server.Server
}

// Wire constructs every component and registers every queue.Handler, but
// starts nothing — callers decide run order and own the shutdown sequence.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := database.New(database.Config{URL: cfg.DatabaseURL, Profile: database.ProfileOLTP, Name: "oltp"})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	kv, err := cache.New(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	conn := db.Conn()
	pipelines := store.NewPipelines(conn)
	execs := store.NewExecutions(conn)
	budgets := store.NewBudgets(conn)
	candles := store.NewCandles(conn)
	positions := store.NewPositions(conn)

	jobQueue := queue.NewMemoryQueue()
	history := queue.NewHistory(conn.DB)
	manager := queue.NewManager(jobQueue, history)
	registry := queue.NewRegistry()
	workers := queue.NewWorkerPool(manager, registry, cfg.Queue.WorkerCount).WithLogger(log)
	sched := queue.NewScheduler(manager)

	redisClient, err := redisClientFromURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		kv.Close()
		return nil, fmt.Errorf("open signal bus: %w", err)
	}
	bus := signalbus.New(redisClient, "dispatcher")

	primaryProvider := providers.NewRateLimited(providers.NewStubProvider(cfg.Providers.PrimaryName, "equity", "forex", "crypto"), cfg.Providers.RateLimitRPS)
	providerRegistry := providers.NewRegistry(primaryProvider)

	dataPlane := dataplane.New(kv, candles, providerRegistry, log)
	universe := dataplane.NewUniverse(conn, kv, dataPlane, log)

	signalGen := signalgen.New(dataPlane, bus, log)

	disp := dispatcher.New(pipelines, execs, bus, manager, log)

	stubBroker := brokers.NewStubBroker()
	resolver := newSingleBrokerResolver(cfg.Broker.AccountID, stubBroker)
	hours := newCalendarMarketHours()
	notifier := newLogNotifier(log)

	tm := trademanager.New(resolver, hours, notifier, log)
	executeAgent := trademanager.NewExecuteAgent(tm)
	monitorAgent := trademanager.NewMonitorAgent(tm)

	executor := pipeline.NewExecutor(
		pipelines, execs, budgets, resolver,
		pipeline.NewMarketDataAgent(dataPlane),
		pipeline.NewBiasAgent(),
		pipeline.NewStrategyAgent(),
		pipeline.NewRiskManagerAgent(),
		executeAgent,
		log,
	).WithPositions(positions)

	monitorTask := monitoring.New(execs, pipelines, monitorAgent, manager, notifier, log).WithPositions(positions)
	reconTask := reconciliation.New(execs, pipelines, resolver, manager, notifier, log)
	masterRecon := reconciliation.NewMasterTask(execs, manager, log)
	hk := housekeeping.New(pipelines, execs, budgets, manager, log)

	pipelineHandler := &pipelineExecutionHandler{pipelines: pipelines, execs: execs, executor: executor, log: log}

	registry.Register(queue.JobTypePipelineExecution, pipelineHandler.Handle)
	registry.Register(queue.JobTypeMonitorExecution, monitorTask.Handle)
	registry.Register(queue.JobTypeUserReconciliation, reconTask.Handle)
	registry.Register(queue.JobTypeMasterReconciliation, masterRecon.Handle)
	registry.Register(queue.JobTypeCheckScheduledPipelines, hk.Handle)
	registry.Register(queue.JobTypeCleanupStaleRunning, hk.Handle)
	registry.Register(queue.JobTypeCleanupOldExecutions, hk.Handle)
	registry.Register(queue.JobTypeResetDailyBudgets, hk.Handle)
	registry.Register(queue.JobTypeUniverseRefresh, func(*queue.Job) error {
		return universe.Refresh(context.Background())
	})
	registry.Register(queue.JobTypeCandlePrefetch, func(*queue.Job) error {
		return universe.PrefetchHotTickers(context.Background())
	})
	registry.Register(queue.JobTypeEnqueueDueMonitoring, func(*queue.Job) error {
		return monitorTask.EnqueueDueChecks(context.Background())
	})

	httpServer := server.New(server.Config{
		Log: log, Port: cfg.Port, DB: db, Cache: kv,
		Pipelines: pipelines, Executions: execs, TradeMgr: executeAgent,
	})

	c := &Container{
		Config: cfg, Log: log,
		DB: db, Cache: kv,
		Queue: jobQueue, Manager: manager, Registry: registry, Workers: workers, Scheduler: sched,
		SignalBus: bus, Dispatcher: disp, SignalGen: signalGen, Universe: universe, DataPlane: dataPlane,
		Monitoring: monitorTask, Reconciliation: reconTask, MasterRecon: masterRecon, Housekeeping: hk,
		Server: httpServer,
	}
	return c, nil
}

// ScheduleRecurring registers every cron-driven periodic enqueue. Called
// once, before Scheduler.Start.
func (c *Container) ScheduleRecurring() error {
	jobs := []struct {
		spec     string
		jobType  queue.JobType
		priority queue.Priority
	}{
		{c.Config.Scheduler.HousekeepingCron, queue.JobTypeCheckScheduledPipelines, queue.PriorityMedium},
		{c.Config.Scheduler.HousekeepingCron, queue.JobTypeCleanupStaleRunning, queue.PriorityLow},
		{"0 3 * * *", queue.JobTypeCleanupOldExecutions, queue.PriorityLow},
		{"0 0 * * *", queue.JobTypeResetDailyBudgets, queue.PriorityMedium},
		{c.Config.Scheduler.ReconciliationCron, queue.JobTypeMasterReconciliation, queue.PriorityHigh},
		{"*/1 * * * *", queue.JobTypeUniverseRefresh, queue.PriorityLow},
		{"*/1 * * * *", queue.JobTypeCandlePrefetch, queue.PriorityLow},
	}
	for _, j := range jobs {
		if err := c.Scheduler.AddPeriodic(j.spec, j.jobType, j.priority, nil); err != nil {
			return fmt.Errorf("schedule %s: %w", j.jobType, err)
		}
	}

	monitorSpec := fmt.Sprintf("@every %s", durationOrDefault(c.Config.Scheduler.MonitorInterval, 30*time.Second))
	if err := c.Scheduler.AddPeriodic(monitorSpec, queue.JobTypeEnqueueDueMonitoring, queue.PriorityHigh, nil); err != nil {
		return fmt.Errorf("schedule %s: %w", queue.JobTypeEnqueueDueMonitoring, err)
	}
	return nil
}

func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// SignalRegistrations builds the fixed set of detectors the signal generator
// runs, scoped to the tickers currently in the hot set at startup.
func (c *Container) SignalRegistrations(ctx context.Context) ([]signalgen.Registration, error) {
	tickers, err := c.Cache.HotTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hot tickers for signal registrations: %w", err)
	}
	if len(tickers) == 0 {
		c.Log.Warn().Msg("no hot tickers at startup, signal generator has nothing to scan until the next universe refresh")
	}

	return []signalgen.Registration{
		{
			Detector:  signalgen.NewGoldenCrossDetector(),
			Timeframe: "D",
			Interval:  time.Hour,
			Tickers:   tickers,
		},
		{
			Detector:  signalgen.NewBreakOfStructureBullishDetector(),
			Timeframe: "1h",
			Interval:  15 * time.Minute,
			Tickers:   tickers,
		},
		{
			Detector:  signalgen.NewBreakOfStructureBearishDetector(),
			Timeframe: "1h",
			Interval:  15 * time.Minute,
			Tickers:   tickers,
		},
	}, nil
}

// ConsumedSignalTypes lists the signal types Dispatcher.Consume must run one
// goroutine per, matching SignalRegistrations' detectors.
func ConsumedSignalTypes() []domain.SignalType {
	return []domain.SignalType{
		domain.SignalGoldenCross,
		domain.SignalBreakOfStructureBullish,
		domain.SignalBreakOfStructureBearish,
	}
}

// Close releases every resource Wire opened. Safe to call even if Wire
// returned a partially constructed Container.
func (c *Container) Close() {
	if c.DB != nil {
		c.DB.Close()
	}
	if c.Cache != nil {
		c.Cache.Close()
	}
}
