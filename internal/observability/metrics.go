package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ledgerEntries   *prometheus.CounterVec
	ledgerUnits     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik stok.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_ledger_entries_total",
		Help: "Ledger entries committed, by movement and reason.",
	}, []string{"movement", "reason"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_ledger_units_total",
		Help: "Absolute units moved through the ledger, by movement.",
	}, []string{"movement"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_transitions_total",
		Help: "Workflow status transitions.",
	}, []string{"workflow", "from", "to"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_rejections_total",
		Help: "Rejected stock operations grouped by error kind.",
	}, []string{"operation", "kind"})
	registry.MustRegister(requests, duration, entries, units, transitions, rejections)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ledgerEntries:   entries,
		ledgerUnits:     units,
		transitions:     transitions,
		rejections:      rejections,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveLedgerEntry counts one committed ledger entry of qty units.
func (m *Metrics) ObserveLedgerEntry(movement, reason string, qty int64) {
	if m == nil {
		return
	}
	if qty < 0 {
		qty = -qty
	}
	m.ledgerEntries.WithLabelValues(movement, reason).Inc()
	m.ledgerUnits.WithLabelValues(movement).Add(float64(qty))
}

// ObserveTransition counts a committed workflow transition.
func (m *Metrics) ObserveTransition(workflow, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(workflow, from, to).Inc()
}

// ObserveRejection counts an operation that failed with kind.
func (m *Metrics) ObserveRejection(operation, kind string) {
	if m == nil || kind == "" {
		return
	}
	m.rejections.WithLabelValues(operation, kind).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
