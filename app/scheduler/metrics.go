package scheduler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics groups the dispatch engine collectors
type engineMetrics struct {
	records         *prometheus.CounterVec
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	pendingQueue    prometheus.Gauge
	awaiting        prometheus.Gauge
	taskActive      *prometheus.GaugeVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *engineMetrics
)

// defaultEngineMetrics returns the collectors registered with the default prometheus registry
func defaultEngineMetrics() *engineMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = newEngineMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	f := promauto.With(reg)
	return &engineMetrics{
		// Dispatch records partitioned by outcome: admitted, sent, delivered, rejected, dead_letter, repoll
		records: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_dispatch_records_total",
				Help: "Dispatch records processed by the engine, by outcome",
			},
			[]string{"outcome"},
		),
		gatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_gateway_requests_total",
				Help: "Requests sent to the SMS gateway, by operation and result",
			},
			[]string{"operation", "result"},
		),
		gatewayDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_gateway_request_duration_seconds",
				Help:    "SMS gateway request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		pendingQueue: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sms_dispatch_pending_queue",
				Help: "Records admitted and waiting for a dispatch tick",
			},
		),
		awaiting: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sms_dispatch_awaiting_confirmation",
				Help: "Dispatch ids sent to the gateway and not yet resolved",
			},
		),
		taskActive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sms_dispatch_task_active",
				Help: "1 while the periodic task is armed",
			},
			[]string{"task"},
		),
	}
}

func (m *engineMetrics) addRecords(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(outcome).Add(float64(n))
}

func (m *engineMetrics) observeGateway(operation, result string, start time.Time) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, result).Inc()
	m.gatewayDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *engineMetrics) setSizes(pending, awaiting int) {
	if m == nil {
		return
	}
	m.pendingQueue.Set(float64(pending))
	m.awaiting.Set(float64(awaiting))
}

func (m *engineMetrics) setActive(task string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.taskActive.WithLabelValues(task).Set(v)
}
