// Пакет service — фоновые сервисы WebApp.
// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// WebApp мониторит две зависимости:
//   - idp — HTTP checker к discovery-документу (critical)
//   - api-gateway — HTTP checker к health endpoint API Gateway (critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker
	"github.com/prometheus/client_golang/prometheus"
)

// Имена зависимостей в метриках и /health/ready.
const (
	DepIdP        = "idp"
	DepAPIGateway = "api-gateway"
)

// Targets — адреса проверяемых зависимостей.
type Targets struct {
	// DiscoveryURL — полный URL discovery-документа IdP.
	DiscoveryURL string
	// GatewayURL — базовый URL API Gateway.
	GatewayURL string
	// GatewayHealthPath — health endpoint API Gateway.
	GatewayHealthPath string
}

// DephealthService — сервис мониторинга зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис. Метрики — в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	targets Targets,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets Targets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	targets Targets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// IdP проверяется по discovery-документу: он подтверждает доступность authority.
	idpHealthPath := healthPath(targets.DiscoveryURL, "/.well-known/openid-configuration")

	gatewayHealthPath := targets.GatewayHealthPath
	if gatewayHealthPath == "" {
		gatewayHealthPath = "/health"
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.HTTP(DepIdP,
			dephealth.FromURL(targets.DiscoveryURL),
			dephealth.WithHTTPHealthPath(idpHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
		dephealth.HTTP(DepAPIGateway,
			dephealth.FromURL(targets.GatewayURL),
			dephealth.WithHTTPHealthPath(gatewayHealthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		),
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// healthPath возвращает path из URL или fallback.
func healthPath(rawURL, fallback string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return fallback
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (IdP + API Gateway)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает состояние зависимостей.
// Ключ — "имя:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
