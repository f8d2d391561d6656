package couriersync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-courier-sync/adapters/gologger"
	courierprom "github.com/goliatone/go-courier-sync/adapters/prometheus"
	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/deadletter"
	"github.com/goliatone/go-courier-sync/httpapi"
	"github.com/goliatone/go-courier-sync/mapping"
	"github.com/goliatone/go-courier-sync/ndr"
	"github.com/goliatone/go-courier-sync/reconcile"
	"github.com/goliatone/go-courier-sync/retry"
	"github.com/goliatone/go-courier-sync/rto"
	"github.com/goliatone/go-courier-sync/scheduler"
	sqlstore "github.com/goliatone/go-courier-sync/store/sql"
	"github.com/goliatone/go-courier-sync/transport"
	"github.com/goliatone/go-courier-sync/webhooks"
	job "github.com/goliatone/go-job"
)

// bundledMappingsPattern matches the tables embedded under data/mappings.
const bundledMappingsPattern = "data/mappings/*.yaml"

// Service is the assembled courier pipeline: webhook ingestion, mapping,
// reconciliation, retries, dead letters, NDR handling and returns.
type Service struct {
	config   core.Config
	stores   Stores
	observer core.Observer
	jobLog   job.Logger

	mapper      *mapping.Mapper
	verifier    *webhooks.SignatureVerifier
	guard       *webhooks.IdempotencyGuard
	pipeline    *webhooks.Pipeline
	processor   *webhooks.Processor
	workers     *webhooks.WorkerPool
	retries     *retry.Scheduler
	dispatcher  *retry.Dispatcher
	deadLetters *deadletter.Service
	applier     *reconcile.Applier
	ndr         *ndr.Engine
	rto         *rto.Controller
	scheduler   *scheduler.Scheduler
	facade      *Facade
	handler     http.Handler

	mu      sync.Mutex
	started bool
	stopped bool
}

func NewService(cfg Config, stores Stores, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("couriersync: invalid config: %w", err)
	}
	if err := stores.validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.metrics == nil {
		recorder := courierprom.NewRecorder(nil)
		o.metrics = recorder
		o.metricsHandler = recorder.Handler()
	}
	observe := func(component string) core.Observer {
		return gologger.Observer(component, o.loggerProvider, o.logger, o.metrics)
	}

	s := &Service{
		config:   cfg,
		stores:   stores,
		observer: observe(""),
	}
	_, _, _, s.jobLog = gologger.ResolveForJob("scheduler", o.loggerProvider, o.logger)

	sources := []core.MappingSource{mapping.FSSource{FS: GetMappingsFS(), Pattern: bundledMappingsPattern}}
	if len(cfg.Mapping.Files) > 0 {
		sources = append(sources, mapping.FileSource{Paths: cfg.Mapping.Files})
	}
	if stores.Mappings != nil {
		sources = append(sources, stores.Mappings)
	}
	sources = append(sources, o.mappingSources...)
	s.mapper = mapping.NewMapper(mapping.WithSources(sources...), mapping.WithObserver(observe("mapping")))

	workflows := stores.Workflows
	if o.workflowCache != nil {
		cached, err := sqlstore.NewCachedWorkflowStore(workflows, o.workflowCache)
		if err != nil {
			return nil, err
		}
		workflows = cached
	}

	s.rto = rto.NewController(stores.RTOs)
	s.rto.Observer = observe("rto")

	notifier, tasks := transport.FromConfig(cfg.Outbound, nil)
	if o.notifier != nil {
		notifier = o.notifier
	}
	if o.tasks != nil {
		tasks = o.tasks
	}
	s.ndr = ndr.NewEngine(stores.NDRs, workflows, notifier, tasks)
	s.ndr.SLA = cfg.NDR.SLA
	if cfg.NDR.ActionLease > 0 {
		s.ndr.ActionLease = cfg.NDR.ActionLease
	}
	if cfg.NDR.SweepLease > 0 {
		s.ndr.SweepLease = cfg.NDR.SweepLease
	}
	s.ndr.Observer = observe("ndr")

	s.applier = reconcile.NewApplier(stores.Shipments, s.ndr)
	s.applier.Returns = s.rto
	s.applier.Observer = observe("reconcile")

	s.deadLetters = deadletter.NewService(stores.DeadLetters, stores.InboundEvents)
	s.deadLetters.Observer = observe("deadletter")

	s.retries = retry.NewScheduler(stores.InboundEvents, s.deadLetters, retry.Policy{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	s.retries.Observer = observe("retry")

	s.pipeline = webhooks.NewPipeline(stores.InboundEvents, s.mapper, s.applier, s.retries, s.deadLetters)
	s.pipeline.Timeout = cfg.Workers.ProcessTimeout
	s.pipeline.Observer = observe("pipeline")

	s.verifier = webhooks.NewSignatureVerifier(cfg, cfg.Webhooks.Tolerance)
	s.verifier.Observer = observe("webhooks")
	s.guard = webhooks.NewIdempotencyGuard(stores.Admissions, cfg.Admission.Retention)

	workers, err := webhooks.NewWorkerPool(s.pipeline, cfg.Workers.Count, cfg.Workers.QueueSize, observe("workers"))
	if err != nil {
		return nil, err
	}
	workers.Claims = stores.InboundEvents
	workers.Lease = cfg.Retry.ClaimLease
	s.workers = workers

	s.processor = webhooks.NewProcessor(s.verifier, s.guard, stores.InboundEvents, s.pipeline)
	s.processor.Workers = s.workers
	s.processor.ClaimLease = cfg.Retry.ClaimLease
	s.processor.Observer = observe("webhooks")
	s.deadLetters.BindReplayer(s.processor)

	s.dispatcher, err = retry.NewDispatcher(stores.InboundEvents, s.pipeline, retry.DispatcherConfig{
		BatchSize:  cfg.Retry.BatchSize,
		ClaimLease: cfg.Retry.ClaimLease,
	}, observe("retry"))
	if err != nil {
		return nil, err
	}

	s.scheduler = scheduler.New(scheduler.Dependencies{
		Retry:       s.dispatcher,
		NDR:         s.ndr,
		DeadLetters: s.deadLetters,
		Admissions:  stores.Admissions,
		Events:      stores.InboundEvents,
		Mappings:    s.mapper,
	}, cfg, observe("scheduler"))

	s.facade, err = NewFacade(FacadeDependencies{
		DeadLetters: s.deadLetters,
		NDR:         s.ndr,
		RTO:         s.rto,
		Workflows:   workflows,
		Mappings:    s.mapper,
	})
	if err != nil {
		return nil, err
	}

	if o.now != nil {
		s.setClock(o.now)
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		Webhooks:     s.processor,
		Commands:     s.facade.HTTPCommands(),
		Queries:      s.facade.HTTPQueries(),
		Health:       o.health,
		Metrics:      o.metricsHandler,
		MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
		Observer:     observe("http"),
		Now:          o.now,
	})
	if err != nil {
		return nil, err
	}
	s.handler = router
	return s, nil
}

func (s *Service) setClock(now func() time.Time) {
	s.verifier.Now = now
	s.guard.Now = now
	s.pipeline.Now = now
	s.processor.Now = now
	s.retries.Now = now
	s.deadLetters.Now = now
	s.applier.Now = now
	s.ndr.Now = now
	s.rto.Now = now
	s.dispatcher.SetClock(now)
	s.scheduler.SetClock(now)
}

// Start loads the mapping tables and starts the worker pool and the sweep
// loops. The sweeps stop with ctx or Stop.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("couriersync: service is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("couriersync: service was stopped")
	}
	if s.started {
		return nil
	}
	if err := s.mapper.Refresh(ctx); err != nil {
		return err
	}
	s.workers.Start(ctx)
	s.scheduler.Start(ctx)
	s.started = true
	s.observer.Info(ctx, "courier sync started", map[string]any{
		"service":  s.config.ServiceName,
		"couriers": len(s.config.Couriers),
		"sweeps":   len(s.scheduler.Sweeps()),
	})
	return nil
}

// Stop halts the sweeps, then drains the worker pool. A stopped service
// cannot be started again.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.workers.Stop()
	s.started = false
	s.stopped = true
}

func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) Config() core.Config { return s.config }

func (s *Service) Facade() *Facade { return s.facade }

func (s *Service) Scheduler() *scheduler.Scheduler { return s.scheduler }

func (s *Service) Processor() *webhooks.Processor { return s.processor }

func (s *Service) Mapper() *mapping.Mapper { return s.mapper }

func (s *Service) DeadLetters() *deadletter.Service { return s.deadLetters }

func (s *Service) NDR() *ndr.Engine { return s.ndr }

func (s *Service) RTO() *rto.Controller { return s.rto }

// JobLogger is the go-job bridge for hosts that run the sweeps on go-job
// workers instead of Start's ticker loops.
func (s *Service) JobLogger() job.Logger { return s.jobLog }
