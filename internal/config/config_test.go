package config

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"SIGO_AUTH_URL":                "https://idp.sigo.local/",
		"SIGO_OIDC_CLIENT_ID":          "sigo-webapp",
		"SIGO_OIDC_CLIENT_SECRET":      "oidc-secret",
		"SIGO_API_GATEWAY_URL":         "https://gateway.sigo.local/",
		"SIGO_API_CLIENT_ID":           "sigo-api",
		"SIGO_API_CLIENT_SECRET":       "api-secret",
		"SIGO_AZURE_CONNECTION_STRING": "UseDevelopmentStorage=true",
		"SIGO_SESSION_SECRET":          base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))),
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.AuthURL != "https://idp.sigo.local" {
		t.Errorf("AuthURL = %q, ожидается без trailing slash", cfg.AuthURL)
	}
	if cfg.APIGatewayURL != "https://gateway.sigo.local" {
		t.Errorf("APIGatewayURL = %q, ожидается без trailing slash", cfg.APIGatewayURL)
	}
	if got := strings.Join(cfg.OIDCScopes, " "); got != "openid profile address email StandardApi" {
		t.Errorf("OIDCScopes = %q", got)
	}
	if cfg.APIScope != "StandardApi" {
		t.Errorf("APIScope = %q, ожидается StandardApi", cfg.APIScope)
	}
	if cfg.StorageBackend != StorageBackendAzure || cfg.AzureContainer != "sigo" {
		t.Errorf("StorageBackend = %q, AzureContainer = %q", cfg.StorageBackend, cfg.AzureContainer)
	}
	if cfg.UploadMaxAttempts != 10 {
		t.Errorf("UploadMaxAttempts = %d, ожидается 10", cfg.UploadMaxAttempts)
	}
	if cfg.UploadBackoffStep != 10*time.Millisecond {
		t.Errorf("UploadBackoffStep = %v, ожидается 10ms", cfg.UploadBackoffStep)
	}
	if cfg.UploadSignedURLTTL != 365*24*time.Hour {
		t.Errorf("UploadSignedURLTTL = %v, ожидается один год", cfg.UploadSignedURLTTL)
	}
	if len(cfg.SessionSecret) != 32 {
		t.Errorf("len(SessionSecret) = %d", len(cfg.SessionSecret))
	}
	if cfg.DiscoveryURL() != "https://idp.sigo.local/.well-known/openid-configuration" {
		t.Errorf("DiscoveryURL() = %q", cfg.DiscoveryURL())
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["SIGO_PORT"] = "9090"
	envs["SIGO_LOG_LEVEL"] = "debug"
	envs["SIGO_LOG_FORMAT"] = "text"
	envs["SIGO_OIDC_SCOPES"] = "openid,profile, StandardApi openid"
	envs["SIGO_STORAGE_BACKEND"] = "S3"
	envs["SIGO_S3_BUCKET"] = "sigo-files"
	envs["SIGO_S3_ENDPOINT"] = "http://minio:9000"
	envs["SIGO_UPLOAD_MAX_ATTEMPTS"] = "3"
	envs["SIGO_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, ожидается 9090", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("LogLevel = %v, LogFormat = %q", cfg.LogLevel, cfg.LogFormat)
	}
	if got := strings.Join(cfg.OIDCScopes, " "); got != "openid profile StandardApi" {
		t.Errorf("OIDCScopes = %q, дубликаты должны отбрасываться", got)
	}
	if cfg.StorageBackend != StorageBackendS3 || cfg.S3Bucket != "sigo-files" || cfg.S3Region != "us-east-1" {
		t.Errorf("S3: backend=%q bucket=%q region=%q", cfg.StorageBackend, cfg.S3Bucket, cfg.S3Region)
	}
	if cfg.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint = %q", cfg.S3Endpoint)
	}
	if cfg.UploadMaxAttempts != 3 {
		t.Errorf("UploadMaxAttempts = %d, ожидается 3", cfg.UploadMaxAttempts)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for missing := range minimalEnvs() {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			setEnvs(t, envs)
			t.Setenv(missing, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			} else if !strings.Contains(err.Error(), missing) {
				t.Errorf("ошибка %q не называет переменную %s", err, missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SIGO_PORT", "abc"},
		{"SIGO_PORT", "70000"},
		{"SIGO_LOG_LEVEL", "verbose"},
		{"SIGO_LOG_FORMAT", "xml"},
		{"SIGO_OIDC_SCOPES", "profile email"},
		{"SIGO_STORAGE_BACKEND", "gcs"},
		{"SIGO_UPLOAD_MAX_ATTEMPTS", "0"},
		{"SIGO_UPLOAD_MAX_ATTEMPTS", "11"},
		{"SIGO_UPLOAD_BACKOFF_STEP", "abc"},
		{"SIGO_UPLOAD_SAS_TTL", "-1h"},
		{"SIGO_UPLOAD_MAX_BYTES", "0"},
		{"SIGO_SESSION_SECRET", "не base64"},
		{"SIGO_SESSION_SECRET", base64.StdEncoding.EncodeToString([]byte("short"))},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			setEnvs(t, minimalEnvs())
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("SIGO_STORAGE_BACKEND", "s3")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SIGO_S3_BUCKET") {
		t.Errorf("ожидалась ошибка SIGO_S3_BUCKET, получено %v", err)
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &Config{LogLevel: slog.LevelInfo, LogFormat: format}
			if SetupLogger(cfg) == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"openid", "openid"},
		{"openid profile", "openid profile"},
		{"openid,,profile,", "openid profile"},
		{" openid , profile\tStandardApi ", "openid profile StandardApi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := strings.Join(parseScopes(tt.input), " "); got != tt.want {
				t.Errorf("parseScopes(%q) = %q, ожидается %q", tt.input, got, tt.want)
			}
		})
	}
}
