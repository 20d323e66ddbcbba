package metrics

import "github.com/prometheus/client_golang/prometheus"

// Assistant gateway Prometheus metrics.
var (
	AssistantRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "assistant_requests_total",
			Help:      "Total number of assistant requests",
		},
		[]string{"provider", "status"},
	)

	AssistantRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "assistant_request_duration_seconds",
			Help:      "Assistant request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	AssistantCardsReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "assistant_cards_returned",
			Help:      "Cards returned per assistant response",
			Buckets:   []float64{0, 1, 3, 5, 9, 15, 25, 50},
		},
		[]string{"provider"},
	)

	AssistantErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "assistant_errors_total",
			Help:      "Total assistant errors",
		},
		[]string{"provider", "error_type"},
	)

	StaleResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "stale_responses_total",
			Help:      "Assistant responses discarded because a newer query superseded them",
		},
	)
)

var assistantMetricsRegistered bool

// RegisterAssistantMetrics registers Prometheus assistant metrics. Must be called once from main.
func RegisterAssistantMetrics() {
	if assistantMetricsRegistered {
		return
	}
	prometheus.MustRegister(AssistantRequestsTotal)
	prometheus.MustRegister(AssistantRequestDuration)
	prometheus.MustRegister(AssistantCardsReturned)
	prometheus.MustRegister(AssistantErrorsTotal)
	prometheus.MustRegister(StaleResponsesTotal)
	assistantMetricsRegistered = true
}
