package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "home_isolation"

// Metrics: 通知ジョブと日数再計算のカウンタ
type Metrics struct {
	Sends            *prometheus.CounterVec   // job, result=sent|failed
	Dispatches       *prometheus.CounterVec   // job, outcome=dispatched|already_dispatched|error
	DispatchDuration *prometheus.HistogramVec // job
	Recomputes       *prometheus.CounterVec   // result=updated|unchanged|conflict

	gatherer prometheus.Gatherer
}

// New: reg に登録する。テストでは prometheus.NewRegistry() を渡す。
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sends_total",
			Help:      "Messages sent per job, by result.",
		}, []string{"job", "result"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_runs_total",
			Help:      "Notification job invocations, by outcome.",
		}, []string{"job", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one notification job run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"job"}),
		Recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "treatment_day_count_recomputes_total",
			Help:      "Per-form results of the treatment day count recompute.",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Sends, m.Dispatches, m.DispatchDuration, m.Recomputes)
	return m
}

// NewNop: 登録先を持たない（CLI の単発実行など）
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler: /metrics 用
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
