package errors

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ErrorMonitor 按错误码、类型与操作统计错误次数
type ErrorMonitor struct {
	errorCounter *prometheus.CounterVec
}

// NewErrorMonitor 创建错误监控器并注册到 reg
func NewErrorMonitor(reg prometheus.Registerer, namespace string) (*ErrorMonitor, error) {
	em := &ErrorMonitor{
		errorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by code and type",
			},
			[]string{"code", "type", "operation"},
		),
	}
	if err := reg.Register(em.errorCounter); err != nil {
		return nil, err
	}
	return em, nil
}

// Record 记录一次失败；nil 监控器或 nil 错误直接忽略
func (em *ErrorMonitor) Record(operation string, err error) {
	if em == nil || err == nil {
		return
	}
	appErr := GetAppError(err)
	em.errorCounter.WithLabelValues(string(appErr.Code), appErr.Type.String(), operation).Inc()
}
