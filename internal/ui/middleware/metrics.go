// metrics.go — Prometheus HTTP метрики WebApp.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigo_http_requests_total",
			Help: "Общее количество HTTP-запросов к WebApp",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sigo_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к WebApp в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Metrics возвращает middleware сбора метрик.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет id норматива на {id}.
// /standards/5f1d/edit → /standards/{id}/edit
func normalizePath(path string) string {
	switch path {
	case "/", "/login", "/standards", "/standards/new", "/userinfo",
		"/auth/login", "/auth/callback", "/auth/logout",
		"/health/live", "/health/ready", "/metrics":
		return path
	}

	const prefix = "/standards/"
	if strings.HasPrefix(path, prefix) {
		rest := path[len(prefix):]
		if strings.HasSuffix(rest, "/edit") {
			return prefix + "{id}/edit"
		}
		if !strings.Contains(rest, "/") {
			return prefix + "{id}"
		}
	}
	return "other"
}
