// Package metrics exposes Prometheus collectors for the gift-exchange service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Participation metrics
	TogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftex_participation_toggles_total",
			Help: "Membership toggles by transition (joined, left, rejected)",
		},
		[]string{"transition"},
	)

	// Draw metrics
	DrawsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftex_draws_total",
			Help: "Draw attempts by outcome",
		},
		[]string{"outcome"},
	)

	DrawDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "giftex_draw_duration_seconds",
			Help:    "Time taken to lock, solve and record a draw",
			Buckets: prometheus.DefBuckets,
		},
	)

	SamplerAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "giftex_solver_attempts",
			Help:    "Candidate permutations sampled per draw, by method that produced the result",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"method"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftex_notifications_total",
			Help: "Assignment notifications by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftex_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "giftex_api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(TogglesTotal)
	prometheus.MustRegister(DrawsTotal)
	prometheus.MustRegister(DrawDuration)
	prometheus.MustRegister(SamplerAttempts)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
