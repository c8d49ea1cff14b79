package metrics

import "github.com/prometheus/client_golang/prometheus"

// CoordinatorMetrics exposes counters/histograms for the appointment and
// session flows.
type CoordinatorMetrics struct {
	bookingsTotal *prometheus.CounterVec
	paymentsTotal *prometheus.CounterVec
	sessionsTotal *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	m := &CoordinatorMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"status"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "payments",
			Name:      "confirmations_total",
			Help:      "Payment confirmation attempts by outcome",
		}, []string{"status"}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemed",
			Subsystem: "sessions",
			Name:      "transitions_total",
			Help:      "Session lifecycle transitions",
		}, []string{"event", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telemed",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.paymentsTotal, m.sessionsTotal, m.httpDuration)
	return m
}

func (m *CoordinatorMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

func (m *CoordinatorMetrics) ObservePayment(status string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(status).Inc()
}

func (m *CoordinatorMetrics) ObserveSession(event, status string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(event, status).Inc()
}

func (m *CoordinatorMetrics) ObserveHTTP(method, route string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
