package core

import "context"

const (
	MetricEventsReceived     = "courier.events.received"
	MetricEventsProcessed    = "courier.events.processed"
	MetricEventsFailed       = "courier.events.failed"
	MetricEventsStale        = "courier.events.stale"
	MetricEventsDuplicate    = "courier.events.duplicate"
	MetricEventsRejected     = "courier.events.rejected"
	MetricEventsUnmapped     = "courier.events.unmapped"
	MetricEventsRetried      = "courier.events.retried"
	MetricProcessingMillis   = "courier.events.processing_ms"
	MetricDeadLetterDepth    = "courier.deadletter.depth"
	MetricDeadLetterCreated  = "courier.deadletter.created"
	MetricNDROpened          = "courier.ndr.opened"
	MetricNDRActionsExecuted = "courier.ndr.actions_executed"
	MetricNDRClosed          = "courier.ndr.closed"
	MetricRTOTransitions     = "courier.rto.transitions"
	MetricHTTPRequests       = "courier.http.requests"
	MetricHTTPRequestMillis  = "courier.http.request_ms"
	MetricSweepJobs          = "courier.sweep.jobs"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (NopMetricsRecorder) SetGauge(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

