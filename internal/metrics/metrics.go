// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records request, upload and tenancy metrics.
type Collector struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploads         *prometheus.CounterVec
	cascadeDeletes  prometheus.Counter
	cascadeFailures prometheus.Counter
	rateLimited     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tenantdesk_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_uploads_total",
			Help: "File uploads by kind and result.",
		}, []string{"kind", "result"}),
		cascadeDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantdesk_company_cascade_deletes_total",
			Help: "Companies deleted because their last member left.",
		}),
		cascadeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantdesk_company_cascade_failures_total",
			Help: "Companies that could not be deleted after their last member left.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantdesk_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"limit_type"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.uploads,
		c.cascadeDeletes,
		c.cascadeFailures,
		c.rateLimited,
	)

	return c
}

// RecordRequest records one served request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records an upload attempt of the given kind.
func (c *Collector) RecordUpload(kind string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.uploads.WithLabelValues(kind, result).Inc()
}

// RecordCascade records the company side effect of a member leaving.
func (c *Collector) RecordCascade(deleted, failed bool) {
	if deleted {
		c.cascadeDeletes.Inc()
	}
	if failed {
		c.cascadeFailures.Inc()
	}
}

// RecordRateLimited records a rejected request.
func (c *Collector) RecordRateLimited(limitType string) {
	c.rateLimited.WithLabelValues(limitType).Inc()
}

// Middleware records every request passing through it. Requests are labelled
// with the chi route pattern so ids in paths do not explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		c.RecordRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.written = true
	return sr.ResponseWriter.Write(b)
}
