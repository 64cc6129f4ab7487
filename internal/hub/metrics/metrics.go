// Package metrics Prometheus 指标导出
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有 Hub 指标
type Metrics struct {
	// 匹配指标
	MatchesTotal  *prometheus.CounterVec
	MatchDuration prometheus.Histogram
	TasksQueued   prometheus.Gauge

	// 结算指标
	SettlementsTotal *prometheus.CounterVec
	FeesCollected    prometheus.Counter

	// 审计指标
	AuditsTotal *prometheus.CounterVec

	// 易货指标
	BartersTotal *prometheus.CounterVec

	// 存储层并发指标
	VersionConflictsTotal *prometheus.CounterVec

	// Agent 指标
	AgentsActive     prometheus.Gauge
	HeartbeatsTotal  prometheus.Counter
	SuspensionsTotal prometheus.Counter

	// 巡检指标
	SweepsTotal *prometheus.CounterVec
}

// New 创建 Hub 指标实例
func New(namespace string) *Metrics {
	return &Metrics{
		MatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "matches_total",
				Help:      "Total match attempts by outcome",
			},
			[]string{"outcome"},
		),
		MatchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "match_duration_seconds",
				Help:      "Match engine duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		TasksQueued: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_queued",
				Help:      "Number of tasks waiting for a match",
			},
		),
		SettlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_total",
				Help:      "Total task settlements by outcome",
			},
			[]string{"outcome"},
		),
		FeesCollected: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_collected_total",
				Help:      "Total platform fee events recorded",
			},
		),
		AuditsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audits_total",
				Help:      "Total knowledge audits by verdict",
			},
			[]string{"verdict"},
		),
		BartersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "barters_total",
				Help:      "Total barter transactions reaching a terminal state",
			},
			[]string{"state"},
		),
		VersionConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_conflicts_total",
				Help:      "Total optimistic concurrency conflicts by entity",
			},
			[]string{"entity"},
		),
		AgentsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agents_active",
				Help:      "Number of active agents",
			},
		),
		HeartbeatsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Total agent heartbeats received",
			},
		),
		SuspensionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspensions_total",
				Help:      "Total agents suspended for low reputation",
			},
		),
		SweepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Total sweeper job runs by job",
			},
			[]string{"job"},
		),
	}
}

// RecordMatch 记录一次匹配尝试
func (m *Metrics) RecordMatch(outcome string, duration time.Duration) {
	m.MatchesTotal.WithLabelValues(outcome).Inc()
	m.MatchDuration.Observe(duration.Seconds())
}

// RecordSettlement 记录一次任务结算
func (m *Metrics) RecordSettlement(outcome string) {
	m.SettlementsTotal.WithLabelValues(outcome).Inc()
}

// RecordAudit 记录一次审计结论
func (m *Metrics) RecordAudit(verdict string) {
	m.AuditsTotal.WithLabelValues(verdict).Inc()
}

// RecordBarterTerminal 记录易货终态
func (m *Metrics) RecordBarterTerminal(state string) {
	m.BartersTotal.WithLabelValues(state).Inc()
}

// RecordConflict 记录一次版本冲突
func (m *Metrics) RecordConflict(entity string) {
	m.VersionConflictsTotal.WithLabelValues(entity).Inc()
}

// Handler 返回 /metrics HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
