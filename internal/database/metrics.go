package database

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector 连接池指标采集器，每次抓取时读取 sql.DBStats
type PoolCollector struct {
	db *sql.DB

	connections   *prometheus.Desc
	maxOpen       *prometheus.Desc
	waitCount     *prometheus.Desc
	waitDuration  *prometheus.Desc
	closedByLimit *prometheus.Desc
}

// NewPoolCollector 创建连接池指标采集器
func NewPoolCollector(db *sql.DB, namespace string) *PoolCollector {
	return &PoolCollector{
		db: db,
		connections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "connections"),
			"Number of database connections in different states",
			[]string{"state"}, nil,
		),
		maxOpen: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "max_open_connections"),
			"Maximum number of open connections to the database",
			nil, nil,
		),
		waitCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "wait_count_total"),
			"Total number of connections waited for",
			nil, nil,
		),
		waitDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "wait_duration_seconds_total"),
			"Total time blocked waiting for a new connection",
			nil, nil,
		),
		closedByLimit: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "database", "closed_connections_total"),
			"Total number of connections closed by pool limits",
			[]string{"reason"}, nil,
		),
	}
}

// Describe 实现 prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.maxOpen
	ch <- c.waitCount
	ch <- c.waitDuration
	ch <- c.closedByLimit
}

// Collect 实现 prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stats()

	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(stats.OpenConnections), "open")
	ch <- prometheus.MustNewConstMetric(c.maxOpen, prometheus.GaugeValue, float64(stats.MaxOpenConnections))
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, stats.WaitDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxIdleClosed), "max_idle")
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxIdleTimeClosed), "max_idle_time")
	ch <- prometheus.MustNewConstMetric(c.closedByLimit, prometheus.CounterValue, float64(stats.MaxLifetimeClosed), "max_lifetime")
}
