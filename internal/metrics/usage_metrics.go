// Package metrics 用量相关的Prometheus指标
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// UsageMetrics 用量指标
type UsageMetrics struct {
	requests     *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	cost         *prometheus.CounterVec
	responseTime *prometheus.HistogramVec
}

// NewUsageMetrics 创建并注册用量指标
func NewUsageMetrics(reg prometheus.Registerer, namespace string) (*UsageMetrics, error) {
	m := &UsageMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "requests_total",
			Help:      "Total number of recorded AI invocations",
		}, []string{"operation", "status", "model_id"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "tokens_total",
			Help:      "Total number of tokens consumed",
		}, []string{"operation", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "cost_total",
			Help:      "Accumulated cost of recorded AI invocations",
		}, []string{"operation"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "response_time_seconds",
			Help:      "Provider response time of recorded AI invocations",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.tokens, m.cost, m.responseTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observation 一次调用的观测值
type Observation struct {
	Operation      string
	Status         string
	ModelID        uint
	InputTokens    int
	OutputTokens   int
	Cost           float64
	ResponseTimeMs *int
}

// Observe 记录一次调用
func (m *UsageMetrics) Observe(o Observation) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(o.Operation, o.Status, strconv.FormatUint(uint64(o.ModelID), 10)).Inc()
	m.tokens.WithLabelValues(o.Operation, "input").Add(float64(o.InputTokens))
	m.tokens.WithLabelValues(o.Operation, "output").Add(float64(o.OutputTokens))
	m.cost.WithLabelValues(o.Operation).Add(o.Cost)
	if o.ResponseTimeMs != nil {
		m.responseTime.WithLabelValues(o.Operation).Observe(float64(*o.ResponseTimeMs) / 1000)
	}
}
