package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server. Each instance owns
// its registry, so tests can build several routers in one process.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	expenses        *prometheus.CounterVec
	payments        *prometheus.CounterVec
	conflicts       prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "debt_ledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		expenses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "debt_ledger",
			Name:      "expenses_total",
			Help:      "Expenses submitted, by type and outcome.",
		}, []string{"type", "outcome"}),
		payments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "debt_ledger",
			Name:      "payments_total",
			Help:      "Payments submitted, by outcome.",
		}, []string{"outcome"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "debt_ledger",
			Name:      "settlement_conflicts_total",
			Help:      "Settlement attempts retried after a concurrent modification.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveConflict counts one settlement retry. Pass it to
// ledger.WithConflictHook.
func (m *Metrics) ObserveConflict(int) {
	m.conflicts.Inc()
}

func (m *Metrics) observeExpense(expenseType, outcome string) {
	m.expenses.WithLabelValues(expenseType, outcome).Inc()
}

func (m *Metrics) observePayment(outcome string) {
	m.payments.WithLabelValues(outcome).Inc()
}

// Middleware records request latency labelled by the matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
