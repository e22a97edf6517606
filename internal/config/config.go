// Пакет config — загрузка и валидация конфигурации Sigo WebApp
// из переменных окружения.
package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend-ы объектного хранилища.
const (
	StorageBackendAzure = "azure"
	StorageBackendS3    = "s3"
)

// Config содержит все параметры конфигурации WebApp.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Identity provider ---

	// Базовый URL IdP (authority), без trailing slash
	AuthURL string
	// Client ID интерактивного входа пользователя
	OIDCClientID string
	// Client Secret интерактивного входа
	OIDCClientSecret string
	// Scopes интерактивного входа
	OIDCScopes []string
	// Внешний URL приложения для redirect_uri (опционально)
	PublicURL string
	// Кэш discovery-документа
	DiscoveryCacheTTL time.Duration

	// --- Standards API ---

	// Базовый URL API Gateway, без trailing slash
	APIGatewayURL string
	// Client ID сервисного токена (client credentials)
	APIClientID string
	// Client Secret сервисного токена
	APIClientSecret string
	// Scope сервисного токена
	APIScope string
	// Путь health endpoint API Gateway (для dephealth)
	APIGatewayHealthPath string

	// --- Объектное хранилище ---

	// Backend: azure или s3
	StorageBackend string
	// Строка подключения Azure Storage
	AzureConnectionString string
	// Контейнер Azure для вложений
	AzureContainer string
	// Bucket S3
	S3Bucket string
	// Регион S3
	S3Region string
	// Endpoint S3-совместимого хранилища (опционально)
	S3Endpoint string

	// --- Загрузка файлов ---

	// Максимум попыток загрузки в хранилище
	UploadMaxAttempts int
	// Шаг линейной задержки между попытками
	UploadBackoffStep time.Duration
	// Срок действия подписанной ссылки
	UploadSignedURLTTL time.Duration
	// Каталог временных файлов (пусто — os.TempDir)
	UploadTempDir string
	// Максимальный размер multipart-формы
	UploadMaxBytes int64

	// --- Сессия ---

	// 32-байтный ключ шифрования cookie сессии (base64 в переменной окружения)
	SessionSecret []byte
	// Время жизни сессии
	SessionTTL time.Duration

	// --- Исходящие HTTP-вызовы ---

	// Путь к CA-сертификату для TLS-соединений с IdP и Gateway (опционально)
	CACertPath string
	// Таймаут HTTP-клиента
	HTTPClientTimeout time.Duration
	// Таймаут одного вызова компонента из обработчика
	RequestTimeout time.Duration

	// --- dephealth ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SIGO_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SIGO_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SIGO_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SIGO_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SIGO_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SIGO_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SIGO_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SIGO_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Identity provider ---

	cfg.AuthURL, err = getEnvRequired("SIGO_AUTH_URL")
	if err != nil {
		return nil, err
	}
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")

	cfg.OIDCClientID, err = getEnvRequired("SIGO_OIDC_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	cfg.OIDCClientSecret, err = getEnvRequired("SIGO_OIDC_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// Scopes через пробел или запятую
	cfg.OIDCScopes = parseScopes(getEnvDefault("SIGO_OIDC_SCOPES", "openid profile address email StandardApi"))
	if !contains(cfg.OIDCScopes, "openid") {
		return nil, fmt.Errorf("SIGO_OIDC_SCOPES: отсутствует обязательный scope openid")
	}

	cfg.PublicURL = strings.TrimRight(getEnvDefault("SIGO_PUBLIC_URL", ""), "/")

	cfg.DiscoveryCacheTTL, err = getEnvDuration("SIGO_DISCOVERY_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SIGO_DISCOVERY_CACHE_TTL: %w", err)
	}

	// --- Standards API ---

	cfg.APIGatewayURL, err = getEnvRequired("SIGO_API_GATEWAY_URL")
	if err != nil {
		return nil, err
	}
	cfg.APIGatewayURL = strings.TrimRight(cfg.APIGatewayURL, "/")

	cfg.APIClientID, err = getEnvRequired("SIGO_API_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	cfg.APIClientSecret, err = getEnvRequired("SIGO_API_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.APIScope = getEnvDefault("SIGO_API_SCOPE", "StandardApi")
	cfg.APIGatewayHealthPath = getEnvDefault("SIGO_API_GATEWAY_HEALTH_PATH", "/health")

	// --- Объектное хранилище ---

	cfg.StorageBackend = strings.ToLower(getEnvDefault("SIGO_STORAGE_BACKEND", StorageBackendAzure))
	switch cfg.StorageBackend {
	case StorageBackendAzure:
		cfg.AzureConnectionString, err = getEnvRequired("SIGO_AZURE_CONNECTION_STRING")
		if err != nil {
			return nil, err
		}
		cfg.AzureContainer = getEnvDefault("SIGO_AZURE_CONTAINER", "sigo")
	case StorageBackendS3:
		cfg.S3Bucket, err = getEnvRequired("SIGO_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3Region = getEnvDefault("SIGO_S3_REGION", "us-east-1")
		cfg.S3Endpoint = getEnvDefault("SIGO_S3_ENDPOINT", "")
	default:
		return nil, fmt.Errorf("SIGO_STORAGE_BACKEND: недопустимое значение %q, допустимые: azure, s3", cfg.StorageBackend)
	}

	// --- Загрузка файлов ---

	cfg.UploadMaxAttempts, err = getEnvInt("SIGO_UPLOAD_MAX_ATTEMPTS", 10)
	if err != nil {
		return nil, fmt.Errorf("SIGO_UPLOAD_MAX_ATTEMPTS: %w", err)
	}
	if cfg.UploadMaxAttempts < 1 || cfg.UploadMaxAttempts > 10 {
		return nil, fmt.Errorf("SIGO_UPLOAD_MAX_ATTEMPTS: значение %d вне допустимого диапазона 1-10", cfg.UploadMaxAttempts)
	}

	cfg.UploadBackoffStep, err = getEnvDuration("SIGO_UPLOAD_BACKOFF_STEP", 10*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("SIGO_UPLOAD_BACKOFF_STEP: %w", err)
	}

	cfg.UploadSignedURLTTL, err = getEnvDuration("SIGO_UPLOAD_SAS_TTL", 365*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SIGO_UPLOAD_SAS_TTL: %w", err)
	}

	cfg.UploadTempDir = getEnvDefault("SIGO_UPLOAD_TEMP_DIR", "")

	maxBytes, err := getEnvInt("SIGO_UPLOAD_MAX_BYTES", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("SIGO_UPLOAD_MAX_BYTES: %w", err)
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("SIGO_UPLOAD_MAX_BYTES: значение должно быть положительным")
	}
	cfg.UploadMaxBytes = int64(maxBytes)

	// --- Сессия ---

	secret, err := getEnvRequired("SIGO_SESSION_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.SessionSecret, err = base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("SIGO_SESSION_SECRET: некорректный base64: %w", err)
	}
	if len(cfg.SessionSecret) != 32 {
		return nil, fmt.Errorf("SIGO_SESSION_SECRET: ключ должен быть 32 байта, получено %d", len(cfg.SessionSecret))
	}

	cfg.SessionTTL, err = getEnvDuration("SIGO_SESSION_TTL", 8*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SIGO_SESSION_TTL: %w", err)
	}

	// --- Исходящие HTTP-вызовы ---

	cfg.CACertPath = getEnvDefault("SIGO_CA_CERT_PATH", "")

	cfg.HTTPClientTimeout, err = getEnvDuration("SIGO_HTTP_CLIENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SIGO_HTTP_CLIENT_TIMEOUT: %w", err)
	}

	cfg.RequestTimeout, err = getEnvDuration("SIGO_REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SIGO_REQUEST_TIMEOUT: %w", err)
	}

	// --- dephealth ---

	cfg.DephealthGroup = getEnvDefault("SIGO_DEPHEALTH_GROUP", "sigo")
	cfg.DephealthCheckInterval, err = getEnvDuration("SIGO_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SIGO_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SIGO_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SIGO_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DiscoveryURL возвращает адрес OIDC discovery-документа IdP.
func (c *Config) DiscoveryURL() string {
	return c.AuthURL + "/.well-known/openid-configuration"
}

// SecureCookies — cookie с флагом Secure, если WebApp опубликован по https.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.PublicURL, "https://")
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseScopes разбирает список scopes, разделённых пробелами или запятыми.
// Пустые элементы и дубликаты игнорируются.
func parseScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		if !contains(result, f) {
			result = append(result, f)
		}
	}
	return result
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
