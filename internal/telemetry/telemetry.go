package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worldland/worldland-launcher/internal/bench"
	"github.com/worldland/worldland-launcher/internal/slots"
)

const namespace = "launcher"

// SnapshotSource is anything that can report per-node slot state
type SnapshotSource interface {
	Snapshot() []slots.NodeStatus
}

// SlotCollector exports the allocator state at scrape time
type SlotCollector struct {
	source SnapshotSource

	total *prometheus.Desc
	used  *prometheus.Desc
}

// NewSlotCollector creates a collector reading from source
func NewSlotCollector(source SnapshotSource) *SlotCollector {
	return &SlotCollector{
		source: source,
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slots", "total"),
			"Total slots on the node",
			[]string{"node", "type"}, nil,
		),
		used: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slots", "used"),
			"Slots already allocated on the node",
			[]string{"node", "type"}, nil,
		),
	}
}

func (c *SlotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.used
}

func (c *SlotCollector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.source.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(n.TotalSlots), n.Address, n.ResourceType)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(n.UsedSlots), n.Address, n.ResourceType)
	}
}

// AllocationCounter counts allocation attempts by type and result
type AllocationCounter struct {
	attempts *prometheus.CounterVec
	slots    *prometheus.CounterVec
}

func NewAllocationCounter() *AllocationCounter {
	return &AllocationCounter{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slot_allocations_total",
				Help:      "Allocation requests by resource type and result",
			},
			[]string{"type", "result"},
		),
		slots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "slots_allocated_total",
				Help:      "Slots handed out by resource type",
			},
			[]string{"type"},
		),
	}
}

// RecordAllocation implements api.AllocationRecorder
func (c *AllocationCounter) RecordAllocation(resourceType string, count int, err error) {
	if err != nil {
		c.attempts.WithLabelValues(resourceType, "rejected").Inc()
		return
	}
	c.attempts.WithLabelValues(resourceType, "ok").Inc()
	c.slots.WithLabelValues(resourceType).Add(float64(count))
}

func (c *AllocationCounter) Describe(ch chan<- *prometheus.Desc) {
	c.attempts.Describe(ch)
	c.slots.Describe(ch)
}

func (c *AllocationCounter) Collect(ch chan<- prometheus.Metric) {
	c.attempts.Collect(ch)
	c.slots.Collect(ch)
}

// BenchMetrics records benchmark outcomes as they finish
type BenchMetrics struct {
	requests     *prometheus.CounterVec
	outputTokens prometheus.Counter
	ttft         prometheus.Histogram
	latency      prometheus.Histogram
}

func NewBenchMetrics() *BenchMetrics {
	buckets := prometheus.ExponentialBuckets(0.01, 2, 14) // 10ms .. ~82s
	return &BenchMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bench",
				Name:      "requests_total",
				Help:      "Finished benchmark requests by result",
			},
			[]string{"result"},
		),
		outputTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bench",
			Name:      "output_tokens_total",
			Help:      "Completion tokens reported by successful requests",
		}),
		ttft: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bench",
			Name:      "ttft_seconds",
			Help:      "Time to first token of successful requests",
			Buckets:   buckets,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bench",
			Name:      "e2e_latency_seconds",
			Help:      "End-to-end latency of successful requests",
			Buckets:   buckets,
		}),
	}
}

// Observe implements bench.Observer
func (m *BenchMetrics) Observe(out bench.RequestOutcome) {
	if !out.Success {
		m.requests.WithLabelValues("failed").Inc()
		return
	}
	m.requests.WithLabelValues("success").Inc()
	m.outputTokens.Add(float64(out.OutputTokens))
	if out.OutputTokens > 0 {
		m.ttft.Observe(out.TTFT.Seconds())
		m.latency.Observe(out.Latency.Seconds())
	}
}

func (m *BenchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.outputTokens.Describe(ch)
	m.ttft.Describe(ch)
	m.latency.Describe(ch)
}

func (m *BenchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.outputTokens.Collect(ch)
	m.ttft.Collect(ch)
	m.latency.Collect(ch)
}

// NewRegistry returns a registry with the Go and process collectors plus cs.
func NewRegistry(cs ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(cs...)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
