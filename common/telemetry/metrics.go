package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is a
// valid no-op receiver so callers never have to branch on telemetry being
// disabled.
type Metrics struct {
	executionsTotal  *prometheus.CounterVec
	nodesTotal       *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	poolInUse        *prometheus.GaugeVec
	activeExecutions prometheus.Gauge
	triggerSpawns    *prometheus.CounterVec
}

// NewMetrics registers the engine instruments on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"status"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_nodes_total",
			Help: "Node executions by terminal status.",
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weft_node_duration_seconds",
			Help:    "Node execution wall time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 12),
		}, []string{"node_type"}),
		poolInUse: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weft_pool_in_use",
			Help: "Permits currently held per resource pool.",
		}, []string{"pool"}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "weft_active_executions",
			Help: "Executions currently running or paused.",
		}),
		triggerSpawns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "weft_trigger_spawns_total",
			Help: "Executions spawned by triggers, by trigger source.",
		}, []string{"source"}),
	}
}

// ExecutionFinished records a terminal execution status
func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(status).Inc()
}

// NodeFinished records a node's terminal status
func (m *Metrics) NodeFinished(status string) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(status).Inc()
}

// ObserveNodeDuration records a node's execution wall time
func (m *Metrics) ObserveNodeDuration(nodeType string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

// PoolAcquired increments the in-use gauge for a pool
func (m *Metrics) PoolAcquired(pool string) {
	if m == nil {
		return
	}
	m.poolInUse.WithLabelValues(pool).Inc()
}

// PoolReleased decrements the in-use gauge for a pool
func (m *Metrics) PoolReleased(pool string) {
	if m == nil {
		return
	}
	m.poolInUse.WithLabelValues(pool).Dec()
}

// ExecutionStarted increments the active executions gauge
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.activeExecutions.Inc()
}

// ExecutionEnded decrements the active executions gauge
func (m *Metrics) ExecutionEnded() {
	if m == nil {
		return
	}
	m.activeExecutions.Dec()
}

// TriggerSpawned counts a trigger-initiated execution
func (m *Metrics) TriggerSpawned(source string) {
	if m == nil {
		return
	}
	m.triggerSpawns.WithLabelValues(source).Inc()
}
