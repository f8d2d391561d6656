package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedMetric struct {
	kind  string
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu      sync.Mutex
	metrics []capturedMetric
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.record("counter", name, float64(value), tags)
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.record("histogram", name, value, tags)
}

func (m *captureMetricsRecorder) SetGauge(_ context.Context, name string, value float64, tags map[string]string) {
	m.record("gauge", name, value, tags)
}

func (m *captureMetricsRecorder) record(kind, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, capturedMetric{kind: kind, name: name, value: value, tags: cloneTags(tags)})
}

func TestObserverObserve_RecordsCounterAndHistogram(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	observer := NewObserver("test", nil, nil, metrics)
	observer.Observe(context.Background(), time.Now().Add(-5*time.Millisecond), "Dead Letter", errors.New("boom"), map[string]any{
		"courier_id": "bluedart",
	})

	if len(metrics.metrics) != 2 {
		t.Fatalf("expected counter and histogram, got %+v", metrics.metrics)
	}
	counter := metrics.metrics[0]
	if counter.name != "courier.dead_letter.total" {
		t.Fatalf("unexpected counter name %q", counter.name)
	}
	if counter.tags["status"] != "failure" || counter.tags["courier_id"] != "bluedart" {
		t.Fatalf("unexpected tags %+v", counter.tags)
	}
}

func TestZeroObserverIsSafe(t *testing.T) {
	var observer Observer
	observer.Info(context.Background(), "noop", nil)
	observer.Gauge(context.Background(), MetricDeadLetterDepth, 1, nil)
}

func TestPayloadFingerprintIsTruncated(t *testing.T) {
	fp := PayloadFingerprint([]byte(`{"event_id":"e1"}`))
	if len(fp) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", fp)
	}
	if fp == PayloadFingerprint([]byte(`{"event_id":"e2"}`)) {
		t.Fatalf("expected different payloads to differ")
	}
}
