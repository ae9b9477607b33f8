// Package metrics exposes Prometheus metrics for artifact ingestion and the
// HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private Prometheus registry. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	ArtifactsStored     *prometheus.CounterVec
	BytesStored         *prometheus.CounterVec
	ArtifactsReplaced   *prometheus.CounterVec
	ArtifactsDeleted    *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates a Collector with all metrics registered under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "artifacts"
	}
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		ArtifactsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_total",
			Help:      "Artifact ingestions by disk, collection and outcome",
		}, []string{"disk", "collection", "status"}),
		BytesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Bytes written to disks by successful ingestions",
		}, []string{"disk"}),
		ArtifactsReplaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replaced_total",
			Help:      "Artifacts removed by single-slot replacement",
		}, []string{"collection"}),
		ArtifactsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deleted_total",
			Help:      "Artifacts deleted by disk",
		}, []string{"disk"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		c.ArtifactsStored,
		c.BytesStored,
		c.ArtifactsReplaced,
		c.ArtifactsDeleted,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordStored counts one ingestion attempt. size is added to the byte
// counter only on success.
func (c *Collector) RecordStored(disk, collection string, size int64, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ArtifactsStored.WithLabelValues(disk, collection, status).Inc()
	if err == nil {
		c.BytesStored.WithLabelValues(disk).Add(float64(size))
	}
}

// RecordReplaced counts artifacts removed by a single-slot replace.
func (c *Collector) RecordReplaced(collection string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.ArtifactsReplaced.WithLabelValues(collection).Add(float64(n))
}

// RecordDeleted counts a deleted artifact.
func (c *Collector) RecordDeleted(disk string) {
	if c == nil {
		return
	}
	c.ArtifactsDeleted.WithLabelValues(disk).Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request count and latency labelled by the matched
// route pattern, keeping label cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, pattern, rec.status, time.Since(start))
	})
}
