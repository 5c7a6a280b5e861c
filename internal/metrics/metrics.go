// Package metrics collects and exposes Prometheus metrics for the accounts service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder is the metrics surface used by services and middleware.
type Recorder interface {
	RecordRegistration()
	RecordLogin(result string)
	RecordTokenRefresh(result string)
	RecordUpload(kind, result string)
	RecordEventPublishFailure()
	RecordHTTPRequest(statusCode int, duration time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	registrations        prometheus.Counter
	logins               *prometheus.CounterVec
	tokenRefreshes       *prometheus.CounterVec
	uploads              *prometheus.CounterVec
	eventPublishFailures prometheus.Counter
	httpRequests         *prometheus.CounterVec
	httpDuration         prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_registrations_total",
			Help: "Number of accounts created.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_token_refresh_total",
			Help: "Refresh token rotations by result.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_uploads_total",
			Help: "Media uploads by kind and result.",
		}, []string{"kind", "result"}),
		eventPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_event_publish_failures_total",
			Help: "Account events that could not be published.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_requests_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accounts_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.tokenRefreshes,
		c.uploads,
		c.eventPublishFailures,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefreshes.WithLabelValues(result).Inc()
}

// RecordUpload counts one upload; kind is "avatar" or "cover_image".
func (c *Collector) RecordUpload(kind, result string) {
	c.uploads.WithLabelValues(kind, result).Inc()
}

func (c *Collector) RecordEventPublishFailure() {
	c.eventPublishFailures.Inc()
}

func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpDuration.Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRegistration()                  {}
func (Nop) RecordLogin(string)                   {}
func (Nop) RecordTokenRefresh(string)            {}
func (Nop) RecordUpload(string, string)          {}
func (Nop) RecordEventPublishFailure()           {}
func (Nop) RecordHTTPRequest(int, time.Duration) {}
