package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 运行结果标签
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Metrics 管道运行指标
type Metrics struct {
	registry prometheus.Gatherer

	RunsTotal      *prometheus.CounterVec
	RowsIngested   prometheus.Counter
	RowsDropped    prometheus.Counter
	CleanWarnings  prometheus.Counter
	OperatingHints prometheus.Counter
	RunDuration    prometheus.Histogram
	LastMeanDelay  prometheus.Gauge
}

// New 在 reg 上注册全部指标，reg 为 nil 时使用新的独立注册表
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transport_delay_pipeline_runs_total",
			Help: "Total number of pipeline runs by status.",
		}, []string{"status"}),
		RowsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "transport_delay_rows_ingested_total",
			Help: "Total number of raw rows read from datasets.",
		}),
		RowsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "transport_delay_rows_dropped_total",
			Help: "Total number of rows removed by cleaning or delay computation.",
		}),
		CleanWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "transport_delay_cleaning_warnings_total",
			Help: "Total number of degraded-handling warnings recorded in audit logs.",
		}),
		OperatingHints: f.NewCounter(prometheus.CounterOpts{
			Name: "transport_delay_operating_warnings_total",
			Help: "Total number of trips flagged with operating-hours advisories.",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transport_delay_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LastMeanDelay: f.NewGauge(prometheus.GaugeOpts{
			Name: "transport_delay_last_mean_delay_minutes",
			Help: "Mean delay_minutes of the most recent successful run.",
		}),
	}
}

// Run 一次运行的统计
type Run struct {
	Success           bool
	Duration          time.Duration
	RowsRaw           int
	RowsOut           int
	Warnings          int
	OperatingWarnings int
	MeanDelay         float64
}

func (m *Metrics) Observe(r Run) {
	status := StatusSuccess
	if !r.Success {
		status = StatusFailed
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(r.Duration.Seconds())
	m.RowsIngested.Add(float64(r.RowsRaw))
	m.CleanWarnings.Add(float64(r.Warnings))
	if !r.Success {
		return
	}
	if dropped := r.RowsRaw - r.RowsOut; dropped > 0 {
		m.RowsDropped.Add(float64(dropped))
	}
	m.OperatingHints.Add(float64(r.OperatingWarnings))
	m.LastMeanDelay.Set(r.MeanDelay)
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
