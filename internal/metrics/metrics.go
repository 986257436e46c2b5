package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubletics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_booking_transitions_total",
			Help: "Committed booking and participant status transitions",
		},
		[]string{"kind", "to"},
	)

	GatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_gateway_calls_total",
			Help: "Payment processor calls by operation and result",
		},
		[]string{"op", "result"},
	)

	SchedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_scheduler_runs_total",
			Help: "Deadline job runs by job and result",
		},
		[]string{"job", "result"},
	)

	SchedulerCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_scheduler_candidates_total",
			Help: "Deadline job candidates by outcome",
		},
		[]string{"job", "outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubletics_notifications_total",
			Help: "Notifications by event and delivery status",
		},
		[]string{"event", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubletics_email_queue_length",
			Help: "Current length of the email queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordTransition(kind, to string) {
	BookingTransitionsTotal.WithLabelValues(kind, to).Inc()
}

func RecordGatewayCall(op, result string) {
	GatewayCallsTotal.WithLabelValues(op, result).Inc()
}

func RecordSchedulerRun(job, result string) {
	SchedulerRunsTotal.WithLabelValues(job, result).Inc()
}

func RecordSchedulerCandidate(job, outcome string) {
	SchedulerCandidatesTotal.WithLabelValues(job, outcome).Inc()
}

func RecordNotification(event, status string) {
	NotificationsTotal.WithLabelValues(event, status).Inc()
}
