// Пакет oidc — OpenID Connect discovery identity provider'а.
// Документ /.well-known/openid-configuration кэшируется в expirable LRU,
// чтобы не запрашивать его на каждый вызов API.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
)

var discoveryFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sigo_oidc_discovery_fetch_total",
	Help: "Запросы discovery-документа к IdP (без учёта попаданий в кэш).",
}, []string{"result"})

// Discovery — используемые поля OIDC discovery-документа.
type Discovery struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

// validate проверяет обязательные поля документа.
func (d *Discovery) validate() error {
	if d.Issuer == "" {
		return fmt.Errorf("в discovery-документе отсутствует issuer")
	}
	if d.TokenEndpoint == "" {
		return fmt.Errorf("в discovery-документе отсутствует token_endpoint")
	}
	return nil
}

// Client загружает и кэширует discovery-документ.
type Client struct {
	url        string
	httpClient *http.Client
	cache      *expirable.LRU[string, *Discovery]
	logger     *slog.Logger

	// fetchMu — один запрос к IdP при промахе кэша
	fetchMu sync.Mutex
}

// NewClient создаёт клиент discovery.
// discoveryURL — полный URL документа (<authority>/.well-known/openid-configuration).
// ttl — время жизни документа в кэше.
func NewClient(discoveryURL string, httpClient *http.Client, ttl time.Duration, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:        discoveryURL,
		httpClient: httpClient,
		cache:      expirable.NewLRU[string, *Discovery](1, nil, ttl),
		logger:     logger.With(slog.String("component", "oidc_discovery")),
	}
}

// Discover возвращает discovery-документ из кэша или IdP.
// Любая ошибка получения или разбора оборачивает errs.ErrAuth.
func (c *Client) Discover(ctx context.Context) (*Discovery, error) {
	if d, ok := c.cache.Get(c.url); ok {
		return d, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Документ мог загрузить конкурентный вызов
	if d, ok := c.cache.Get(c.url); ok {
		return d, nil
	}

	d, err := c.fetch(ctx)
	if err != nil {
		discoveryFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: discovery %s: %w", errs.ErrAuth, c.url, err)
	}
	discoveryFetchTotal.WithLabelValues("success").Inc()

	c.cache.Add(c.url, d)
	c.logger.Debug("Discovery-документ загружен",
		slog.String("issuer", d.Issuer),
		slog.String("token_endpoint", d.TokenEndpoint),
	)
	return d, nil
}

// Invalidate удаляет документ из кэша (например, после отказа token endpoint).
func (c *Client) Invalidate() {
	c.cache.Remove(c.url)
}

func (c *Client) fetch(ctx context.Context) (*Discovery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос к IdP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("IdP вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var d Discovery
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("декодирование документа: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
