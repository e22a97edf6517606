// health.go — health endpoints WebApp.
// /health/live — процесс жив; /health/ready — IdP и API Gateway доступны.
package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcelo-marini/sigo-web-app/internal/config"
)

const serviceName = "sigo-webapp"

// DependencyHealth — состояние зависимостей (имя → доступна).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	deps        DependencyHealth
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик. deps может быть nil — readiness тогда ok.
func NewHealthHandler(deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type healthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	Version   string              `json:"version"`
	Service   string              `json:"service"`
	Checks    []healthCheckResult `json:"checks,omitempty"`
}

// HealthLive — liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. 503, если какая-либо зависимость недоступна.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}

	if h.deps != nil {
		health := h.deps.Health()
		names := make([]string, 0, len(health))
		for name := range health {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			status := "ok"
			if !health[name] {
				status = "fail"
				resp.Status = "fail"
			}
			resp.Checks = append(resp.Checks, healthCheckResult{Name: name, Status: status})
		}
	}

	code := http.StatusOK
	if resp.Status == "fail" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Metrics — Prometheus метрики.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
