// Package prometheus implements core.MetricsRecorder on the Prometheus
// client. Collectors are created on first use; dotted metric names become
// underscored and the first observation of a metric fixes its label set.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-courier-sync/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMillisBuckets suits processing and request latencies in milliseconds.
var DefaultMillisBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Recorder struct {
	registerer prom.Registerer
	gatherer   prom.Gatherer
	namespace  string
	buckets    []float64
	onError    func(error)

	mu         sync.Mutex
	counters   map[string]*vec[*prom.CounterVec]
	histograms map[string]*vec[*prom.HistogramVec]
	gauges     map[string]*vec[*prom.GaugeVec]
}

type vec[T any] struct {
	collector T
	labels    []string
}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitize(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// WithErrorHandler receives registration failures, which otherwise drop the sample.
func WithErrorHandler(handler func(error)) Option {
	return func(r *Recorder) {
		r.onError = handler
	}
}

// NewRecorder registers collectors on registry. A nil registry gets a
// private one so tests and multiple services never collide.
func NewRecorder(registry *prom.Registry, opts ...Option) *Recorder {
	if registry == nil {
		registry = prom.NewRegistry()
	}
	r := &Recorder{
		registerer: registry,
		gatherer:   registry,
		buckets:    DefaultMillisBuckets,
		counters:   map[string]*vec[*prom.CounterVec]{},
		histograms: map[string]*vec[*prom.HistogramVec]{},
		gauges:     map[string]*vec[*prom.GaugeVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Gatherer() prom.Gatherer {
	return r.gatherer
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if value < 0 {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[name]
	if !ok {
		labels := labelNames(tags)
		collector := prom.NewCounterVec(prom.CounterOpts{
			Namespace: r.namespace,
			Name:      sanitize(name) + "_total",
			Help:      "Counter " + name,
		}, labels)
		if err := r.register(collector); err != nil {
			r.mu.Unlock()
			r.fail(name, err)
			return
		}
		entry = &vec[*prom.CounterVec]{collector: collector, labels: labels}
		r.counters[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	r.mu.Lock()
	entry, ok := r.histograms[name]
	if !ok {
		labels := labelNames(tags)
		collector := prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: r.namespace,
			Name:      sanitize(name),
			Help:      "Histogram " + name,
			Buckets:   r.buckets,
		}, labels)
		if err := r.register(collector); err != nil {
			r.mu.Unlock()
			r.fail(name, err)
			return
		}
		entry = &vec[*prom.HistogramVec]{collector: collector, labels: labels}
		r.histograms[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func (r *Recorder) SetGauge(_ context.Context, name string, value float64, tags map[string]string) {
	r.mu.Lock()
	entry, ok := r.gauges[name]
	if !ok {
		labels := labelNames(tags)
		collector := prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: r.namespace,
			Name:      sanitize(name),
			Help:      "Gauge " + name,
		}, labels)
		if err := r.register(collector); err != nil {
			r.mu.Unlock()
			r.fail(name, err)
			return
		}
		entry = &vec[*prom.GaugeVec]{collector: collector, labels: labels}
		r.gauges[name] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Set(value)
}

func (r *Recorder) register(collector prom.Collector) error {
	return r.registerer.Register(collector)
}

func (r *Recorder) fail(name string, err error) {
	if r.onError != nil {
		r.onError(fmt.Errorf("prometheus: register %s: %w", name, err))
	}
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		names = append(names, sanitize(key))
	}
	sort.Strings(names)
	return names
}

// labelValues fills missing labels with "" and drops labels the collector
// was not created with.
func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[sanitize(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = normalized[label]
	}
	return values
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
