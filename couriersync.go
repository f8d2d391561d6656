package couriersync

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-courier-sync/core"
	"github.com/goliatone/go-courier-sync/httpapi"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type Config = core.Config

type CourierConfig = core.CourierConfig

type MetricsRecorder = core.MetricsRecorder

type Notifier = core.Notifier

type TaskSink = core.TaskSink

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// ResolveConfig layers defaults, loaded values and runtime overrides.
func ResolveConfig(ctx context.Context, runtime Config, provider core.ConfigProvider) (Config, error) {
	return core.ResolveConfig(ctx, runtime, provider, nil)
}

// NewConfigProvider decodes raw values from loader through go-config.
func NewConfigProvider(loader core.RawConfigLoader) core.ConfigProvider {
	return core.NewCfgxConfigProvider(loader)
}

type Option func(*options)

type options struct {
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	metrics        core.MetricsRecorder
	metricsHandler http.Handler
	notifier       core.Notifier
	tasks          core.TaskSink
	workflowCache  repositorycache.CacheService
	mappingSources []core.MappingSource
	health         httpapi.HealthCheck
	now            func() time.Time
}

func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithMetrics replaces the bundled Prometheus recorder. handler, when not
// nil, is served on /metrics.
func WithMetrics(recorder core.MetricsRecorder, handler http.Handler) Option {
	return func(o *options) {
		o.metrics = recorder
		o.metricsHandler = handler
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

func WithTaskSink(tasks core.TaskSink) Option {
	return func(o *options) {
		o.tasks = tasks
	}
}

// WithWorkflowCache caches workflow definition lookups in front of the
// workflow store.
func WithWorkflowCache(cache repositorycache.CacheService) Option {
	return func(o *options) {
		o.workflowCache = cache
	}
}

// WithMappingSources appends status mapping sources after the bundled
// tables and configured files.
func WithMappingSources(sources ...core.MappingSource) Option {
	return func(o *options) {
		o.mappingSources = append(o.mappingSources, sources...)
	}
}

func WithHealthCheck(check httpapi.HealthCheck) Option {
	return func(o *options) {
		o.health = check
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
