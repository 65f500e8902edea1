package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jremind"

// Metrics 应用指标
type Metrics struct {
	// 任务引擎
	JobItems       *prometheus.CounterVec
	JobTransitions *prometheus.CounterVec
	JobsRunning    prometheus.Gauge

	// 网关
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  prometheus.Histogram

	// 熔断器
	BreakerState       prometheus.Gauge
	BreakerTransitions *prometheus.CounterVec
	BreakerQueueSize   prometheus.Gauge

	// 幂等账本
	LedgerLookups *prometheus.CounterVec
}

// BreakerStateValue 熔断器状态对应的 gauge 值
func BreakerStateValue(status string) float64 {
	switch status {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// NewMetrics reg 为 nil 时指标不注册，用于测试
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "items_total",
			Help:      "Total number of processed job items by outcome",
		}, []string{"outcome"}),
		JobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "transitions_total",
			Help:      "Total number of job status transitions",
		}, []string{"status"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "running_loops",
			Help:      "Current number of job loops running in this instance",
		}),

		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of gateway requests by result",
		}, []string{"result"}),
		GatewayLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of a single gateway request",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}),

		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0 closed, 1 half_open, 2 open)",
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker transitions",
		}, []string{"to"}),
		BreakerQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "queue_size",
			Help:      "Current number of messages deflected into the breaker queue",
		}),

		LedgerLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lookups_total",
			Help:      "Total number of idempotency ledger lookups by source",
		}, []string{"source"}),
	}
}
