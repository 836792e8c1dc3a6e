package database

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(*pgxpool.Stat) float64
}

// PoolStatsCollector exports pgxpool statistics. Values are read from the
// pool on every scrape.
type PoolStatsCollector struct {
	stat    func() *pgxpool.Stat
	service string
	metrics []poolMetric
}

// NewPoolStatsCollector creates a collector for pool labeled with service.
func NewPoolStatsCollector(pool *pgxpool.Pool, service string) *PoolStatsCollector {
	return newPoolStatsCollector(pool.Stat, service)
}

func newPoolStatsCollector(stat func() *pgxpool.Stat, service string) *PoolStatsCollector {
	gauge := func(name, help string, v func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc("db_pool_"+name, help, []string{"service"}, nil), prometheus.GaugeValue, v}
	}
	counter := func(name, help string, v func(*pgxpool.Stat) float64) poolMetric {
		return poolMetric{prometheus.NewDesc("db_pool_"+name, help, []string{"service"}, nil), prometheus.CounterValue, v}
	}

	return &PoolStatsCollector{
		stat:    stat,
		service: service,
		metrics: []poolMetric{
			gauge("acquired_connections", "Connections currently checked out of the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
			gauge("idle_connections", "Connections currently idle in the pool.",
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
			gauge("total_connections", "Connections currently open.",
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
			gauge("max_connections", "Configured connection limit.",
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }),
			counter("acquires_total", "Connection acquires.",
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }),
			counter("acquire_wait_seconds_total", "Time spent waiting to acquire connections.",
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }),
			counter("empty_acquires_total", "Acquires that had to wait for a free connection.",
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("canceled_acquires_total", "Acquires abandoned by their context.",
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(stat), c.service)
	}
}

// RegisterPoolMetrics registers a pool collector with reg, or the default
// registerer when reg is nil.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool, service string) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return reg.Register(NewPoolStatsCollector(pool, service))
}
