// Точка входа Sigo WebApp — веб-интерфейс каталога нормативов.
// Загружает конфигурацию, создаёт клиенты IdP, Standards API и объектного
// хранилища, обработчики UI, запускает мониторинг зависимостей
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/marcelo-marini/sigo-web-app/internal/blobstore"
	"github.com/marcelo-marini/sigo-web-app/internal/config"
	"github.com/marcelo-marini/sigo-web-app/internal/httpclient"
	"github.com/marcelo-marini/sigo-web-app/internal/oidc"
	"github.com/marcelo-marini/sigo-web-app/internal/server"
	"github.com/marcelo-marini/sigo-web-app/internal/service"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
	"github.com/marcelo-marini/sigo-web-app/internal/standardapi"
	"github.com/marcelo-marini/sigo-web-app/internal/token"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/auth"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/handlers"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/middleware"
)

const serviceID = "sigo-webapp"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Sigo WebApp запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	if cfg.PublicURL == "" {
		logger.Warn("SIGO_PUBLIC_URL не задан, redirect_uri вычисляется по заголовкам запроса")
	}

	ctx := context.Background()

	// 3. HTTP-клиент с кастомным CA (IdP, API Gateway)
	httpClient, err := httpclient.New(cfg.CACertPath, cfg.HTTPClientTimeout)
	if err != nil {
		logger.Error("Ошибка загрузки CA-сертификата",
			slog.String("path", cfg.CACertPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 4. Discovery-документ IdP (кэшируется)
	discovery := oidc.NewClient(cfg.DiscoveryURL(), httpClient, cfg.DiscoveryCacheTTL, logger)

	// 5. Провайдер service и delegated токенов
	tokens := token.NewProvider(discovery, token.Credentials{
		ClientID:     cfg.APIClientID,
		ClientSecret: cfg.APIClientSecret,
		Scopes:       []string{cfg.APIScope},
	}, httpClient, logger)

	// 6. Объектное хранилище и загрузчик вложений
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации объектного хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	uploader := blobstore.NewUploader(store, blobstore.Options{
		MaxAttempts:  cfg.UploadMaxAttempts,
		BackoffStep:  cfg.UploadBackoffStep,
		SignedURLTTL: cfg.UploadSignedURLTTL,
		TempDir:      cfg.UploadTempDir,
	}, logger)

	// 7. Клиент Standards API
	apiClient := standardapi.New(cfg.APIGatewayURL, tokens, uploader, discovery, httpClient, logger)

	// 8. Сессии и локализация
	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SecureCookies(), cfg.SessionTTL)
	if err != nil {
		logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	messages, err := i18n.Load(logger)
	if err != nil {
		logger.Error("Ошибка загрузки каталогов сообщений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. OIDC-клиент входа пользователя
	oidcClient := auth.NewOIDCClient(discovery, auth.Config{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		Scopes:       cfg.OIDCScopes,
		HTTPClient:   httpClient,
	}, logger)

	// 10. topologymetrics — мониторинг IdP и API Gateway
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		service.Targets{
			DiscoveryURL:      cfg.DiscoveryURL(),
			GatewayURL:        cfg.APIGatewayURL,
			GatewayHealthPath: cfg.APIGatewayHealthPath,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Обработчики и middleware
	var deps handlers.DependencyHealth
	if dephealthSvc != nil {
		deps = dephealthSvc
	}
	components := &server.Components{
		Health:         handlers.NewHealthHandler(deps),
		Auth:           handlers.NewAuthHandler(oidcClient, sessions, messages, cfg.PublicURL, cfg.SecureCookies(), logger),
		Standards:      handlers.NewStandardsHandler(apiClient, messages, logger),
		SessionAuth:    middleware.NewSessionAuth(sessions, oidcClient, logger),
		Antiforgery:    middleware.NewAntiforgery(cfg.SecureCookies(), messages, logger),
		MaxBodyBytes:   cfg.UploadMaxBytes,
		RequestTimeout: cfg.RequestTimeout,
	}

	// 12. HTTP-сервер
	srv := server.New(cfg, logger, components)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("Sigo WebApp остановлен")
}

// newStore создаёт хранилище выбранного backend-а.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendAzure:
		return blobstore.NewAzureStore(cfg.AzureConnectionString, cfg.AzureContainer, logger)
	case config.StorageBackendS3:
		return blobstore.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, logger)
	default:
		return nil, fmt.Errorf("неизвестный backend хранилища: %q", cfg.StorageBackend)
	}
}
