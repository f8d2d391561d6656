package gologger

import (
	"strings"

	"github.com/goliatone/go-courier-sync/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// RootLoggerName prefixes every component logger.
const RootLoggerName = "courier-sync"

// ComponentName returns the logger name for a pipeline component,
// e.g. "courier-sync.webhooks".
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return RootLoggerName
	}
	if strings.HasPrefix(component, RootLoggerName+".") || component == RootLoggerName {
		return component
	}
	return RootLoggerName + "." + component
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(ComponentName(name), provider, logger)
}

// Observer builds the component observer the pipeline packages report through.
func Observer(component string, provider glog.LoggerProvider, logger glog.Logger, metrics core.MetricsRecorder) core.Observer {
	return core.NewObserver(ComponentName(component), provider, logger, metrics)
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the sweep worker logger and returns it together
// with the go-job bridges.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
