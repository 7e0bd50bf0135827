package polystore

import "time"

// Metrics provides observability for store and backend operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing
type InMemoryMetrics struct {
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.Timings[name] = append(m.Timings[name], duration)
}

// Common metric names
const (
	MetricGetSuccess       = "polystore.get.success"
	MetricGetError         = "polystore.get.error"
	MetricGetDuration      = "polystore.get.duration"
	MetricPutSuccess       = "polystore.put.success"
	MetricPutError         = "polystore.put.error"
	MetricPutDuration      = "polystore.put.duration"
	MetricUpdateSuccess    = "polystore.update.success"
	MetricUpdateError      = "polystore.update.error"
	MetricUpdateDuration   = "polystore.update.duration"
	MetricDeleteSuccess    = "polystore.delete.success"
	MetricDeleteError      = "polystore.delete.error"
	MetricDeleteDuration   = "polystore.delete.duration"
	MetricQueryDuration    = "polystore.query.duration"
	MetricQueryResults     = "polystore.query.results"
	MetricPlanQuery        = "polystore.plan.query"
	MetricPlanScan         = "polystore.plan.scan"
	MetricPlanDuration     = "polystore.plan.duration"
	MetricBatchSize        = "polystore.batch.size"
	MetricBatchDuration    = "polystore.batch.duration"
	MetricTransactSuccess  = "polystore.transact.success"
	MetricTransactConflict = "polystore.transact.conflict"
	MetricTransactSize     = "polystore.transact.size"
	MetricWriteConflict    = "polystore.write.conflict"
	MetricPreconditionFail = "polystore.write.precondition_failed"

	// Backend-level metrics
	MetricBackendOps     = "polystore.backend.ops"
	MetricBackendErrors  = "polystore.backend.errors"
	MetricBackendLatency = "polystore.backend.latency"
	MetricIndexCreated   = "polystore.index.created"
	MetricIndexDropped   = "polystore.index.dropped"
	MetricIndexExists    = "polystore.index.exists"
)
