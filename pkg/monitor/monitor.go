// Package monitor exposes Prometheus metrics for polling loops, ledger RPC
// calls, sessions and the HTTP API.
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/mechanisms/svm"
)

const namespace = "solanapay"

// Metrics holds every collector registered by the service
type Metrics struct {
	registry *prometheus.Registry

	PollTotal        *prometheus.CounterVec
	PollDuration     *prometheus.HistogramVec
	PollNextDelay    *prometheus.GaugeVec
	RPCRequestsTotal *prometheus.CounterVec
	RPCDuration      *prometheus.HistogramVec
	RecordsPublished prometheus.Gauge
	TransfersTotal   prometheus.Counter
	SessionsTotal    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PollTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_total",
			Help:      "Outer polls by loop and result",
		}, []string{"loop", "result"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of outer polls including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		PollNextDelay: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_next_delay_seconds",
			Help:      "Current wait before the loop polls again",
		}, []string{"loop"}),
		RPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Ledger JSON-RPC calls by method and result",
		}, []string{"method", "result"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "Ledger JSON-RPC call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RecordsPublished: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_published",
			Help:      "Length of the last published transfer list",
		}),
		TransfersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_observed_total",
			Help:      "Transfers seen for the first time by the reconciler",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Payment session transitions by target status",
		}, []string{"status"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry backing the metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchLoading exports fn as a 0/1 gauge, typically TransactionReconciler.Loading
func (m *Metrics) WatchLoading(fn func() bool) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "reconciler_loading",
		Help:      "1 while a reconciler stage has a ledger call in flight",
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	})
}

// WatchSessions exports fn as the number of live sessions
func (m *Metrics) WatchSessions(fn func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Sessions held by the session store",
	}, func() float64 {
		return float64(fn())
	})
}

// PollHook records poll outcomes
func (m *Metrics) PollHook() solanapay.PollHook {
	return func(ctx solanapay.PollResultContext) {
		m.PollTotal.WithLabelValues(ctx.Loop, result(ctx.Succeeded)).Inc()
		m.PollDuration.WithLabelValues(ctx.Loop).Observe(ctx.Duration.Seconds())
		m.PollNextDelay.WithLabelValues(ctx.Loop).Set(ctx.NextDelay.Seconds())
	}
}

// RequestObserver records ledger RPC calls
func (m *Metrics) RequestObserver() svm.RequestObserver {
	return func(method string, duration time.Duration, err error) {
		m.RPCRequestsTotal.WithLabelValues(method, result(err == nil)).Inc()
		m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// RecordsPublishedHook records reconciler publishes
func (m *Metrics) RecordsPublishedHook() solanapay.RecordsPublishedHook {
	return func(ctx solanapay.RecordsPublishedContext) error {
		m.RecordsPublished.Set(float64(len(ctx.Records)))
		m.TransfersTotal.Add(float64(len(ctx.Added)))
		return nil
	}
}

// SessionStatusHook counts session transitions
func (m *Metrics) SessionStatusHook() solanapay.SessionStatusHook {
	return func(ctx solanapay.SessionStatusContext) error {
		m.SessionsTotal.WithLabelValues(string(ctx.To)).Inc()
		return nil
	}
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, code int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
