// Пакет token — источник токенов для исходящих вызовов.
//
// Два вида токенов не взаимозаменяемы:
//   - service — токен самого WebApp (client credentials grant), для Standards API;
//   - delegated — access token вошедшего пользователя, для user-info endpoint IdP.
//
// Service token кэшируется и обновляется за 30s до истечения.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/oidc"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
)

// refreshLeeway — запас до истечения, при котором service token запрашивается заново.
const refreshLeeway = 30 * time.Second

var serviceTokenFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sigo_service_token_fetch_total",
	Help: "Запросы service token к token endpoint IdP.",
}, []string{"result"})

// Discoverer — источник OIDC discovery-документа.
// Invalidate сбрасывает кэш, следующий Discover загружает документ заново.
type Discoverer interface {
	Discover(ctx context.Context) (*oidc.Discovery, error)
	Invalidate()
}

// Credentials — учётные данные client credentials grant.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Provider выдаёт service и delegated токены.
type Provider struct {
	discovery  Discoverer
	creds      Credentials
	httpClient *http.Client
	logger     *slog.Logger

	// Кэш service token; mu удерживается на время запроса к IdP,
	// конкурентные вызовы ждут один обмен.
	mu     sync.Mutex
	cached *model.AccessToken
}

// NewProvider создаёт Provider.
func NewProvider(discovery Discoverer, creds Credentials, httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Provider{
		discovery:  discovery,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "token_provider")),
	}
}

// ServiceToken возвращает service token, запрашивая новый при необходимости.
// Ошибки discovery и отказ token endpoint возвращаются как errs.ErrAuth.
func (p *Provider) ServiceToken(ctx context.Context) (*model.AccessToken, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && !p.cached.Expired(refreshLeeway) {
		return p.cached, nil
	}

	doc, err := p.discovery.Discover(ctx)
	if err != nil {
		serviceTokenFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	cfg := clientcredentials.Config{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		TokenURL:     doc.TokenEndpoint,
		Scopes:       p.creds.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		serviceTokenFetchTotal.WithLabelValues("error").Inc()
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			// Endpoint-ы могли смениться: следующий вызов перечитает discovery
			p.discovery.Invalidate()
			if rErr.Response != nil {
				p.logger.Warn("Token endpoint отклонил запрос service token",
					slog.Int("status", rErr.Response.StatusCode),
					slog.String("error_code", rErr.ErrorCode),
				)
			}
		}
		return nil, fmt.Errorf("%w: запрос service token: %w", errs.ErrAuth, err)
	}
	serviceTokenFetchTotal.WithLabelValues("success").Inc()

	access := &model.AccessToken{
		Value:  tok.AccessToken,
		Expiry: tok.Expiry,
		Kind:   model.TokenKindService,
	}

	// Токен без срока действия не кэшируется
	if !tok.Expiry.IsZero() {
		p.cached = access
	}

	p.logger.Debug("Service token обновлён",
		slog.Time("expires_at", tok.Expiry),
	)
	return access, nil
}

// DelegatedToken возвращает access token пользователя из сессии в контексте.
// Без сессии возвращает errs.ErrAuth.
func (p *Provider) DelegatedToken(ctx context.Context) (*model.AccessToken, error) {
	data := session.FromContext(ctx)
	if data == nil || data.AccessToken == "" {
		return nil, fmt.Errorf("%w: пользователь не аутентифицирован", errs.ErrAuth)
	}
	return data.DelegatedToken(), nil
}
