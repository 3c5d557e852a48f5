package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Membership metrics
	InvitationsTotal       *prometheus.CounterVec
	SeatLimitRejections    prometheus.Counter
	OwnershipTransfers     *prometheus.CounterVec
	MembershipChangesTotal *prometheus.CounterVec

	// Billing metrics
	BillingDecisionsTotal *prometheus.CounterVec
	ProviderCallsTotal    *prometheus.CounterVec
	ProviderCallDuration  *prometheus.HistogramVec
	WebhookEventsTotal    *prometheus.CounterVec

	// Notifier metrics
	NotificationsTotal *prometheus.CounterVec

	// Tier cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal prometheus.Counter

	// Job metrics
	JobRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_invitations_total",
				Help: "Invitations by outcome",
			},
			[]string{"result"},
		),
		SeatLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitle_seat_limit_rejections_total",
				Help: "Membership growth rejected by the seat limit",
			},
		),
		OwnershipTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_ownership_transfers_total",
				Help: "Ownership transfers by outcome",
			},
			[]string{"result"},
		),
		MembershipChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_membership_changes_total",
				Help: "Committed membership changes by operation",
			},
			[]string{"operation"},
		),
		BillingDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_billing_decisions_total",
				Help: "Billing gate decisions by action and outcome",
			},
			[]string{"action", "allowed"},
		),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_provider_calls_total",
				Help: "Payment provider calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		ProviderCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitle_provider_call_duration_seconds",
				Help:    "Payment provider call duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_webhook_events_total",
				Help: "Payment provider webhook events by type and outcome",
			},
			[]string{"type", "result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_notifications_total",
				Help: "Notifications by template and outcome",
			},
			[]string{"template", "result"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_tier_cache_hits_total",
				Help: "Tier cache hits by level",
			},
			[]string{"level"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "entitle_tier_cache_misses_total",
				Help: "Tier cache misses that reached the directory store",
			},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitle_job_runs_total",
				Help: "Background job runs by job and outcome",
			},
			[]string{"job", "result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvitationsTotal,
		m.SeatLimitRejections,
		m.OwnershipTransfers,
		m.MembershipChangesTotal,
		m.BillingDecisionsTotal,
		m.ProviderCallsTotal,
		m.ProviderCallDuration,
		m.WebhookEventsTotal,
		m.NotificationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobRunsTotal,
	)

	return m
}

// RecordInvitation counts an invitation attempt
func (m *Metrics) RecordInvitation(result string) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(result).Inc()
}

// RecordSeatLimitRejection counts a rejected membership growth
func (m *Metrics) RecordSeatLimitRejection() {
	if m == nil {
		return
	}
	m.SeatLimitRejections.Inc()
}

// RecordOwnershipTransfer counts an ownership transfer attempt
func (m *Metrics) RecordOwnershipTransfer(result string) {
	if m == nil {
		return
	}
	m.OwnershipTransfers.WithLabelValues(result).Inc()
}

// RecordMembershipChange counts a committed membership change
func (m *Metrics) RecordMembershipChange(operation string) {
	if m == nil {
		return
	}
	m.MembershipChangesTotal.WithLabelValues(operation).Inc()
}

// RecordBillingDecision counts a billing gate decision
func (m *Metrics) RecordBillingDecision(action string, allowed bool) {
	if m == nil {
		return
	}
	m.BillingDecisionsTotal.WithLabelValues(action, strconv.FormatBool(allowed)).Inc()
}

// ObserveProviderCall records a payment provider call
func (m *Metrics) ObserveProviderCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(operation, status).Inc()
	m.ProviderCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordWebhookEvent counts a processed webhook event
func (m *Metrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordNotification counts a notification attempt
func (m *Metrics) RecordNotification(template string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(template, result).Inc()
}

// RecordCacheHit counts a tier cache hit at the given level ("l1" or "l2")
func (m *Metrics) RecordCacheHit(level string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(level).Inc()
}

// RecordCacheMiss counts a tier cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

// RecordJobRun counts a background job run
func (m *Metrics) RecordJobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests, labelled by route template
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			if metrics == nil {
				return
			}
			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
