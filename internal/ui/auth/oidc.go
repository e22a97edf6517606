// Пакет auth — вход пользователя WebApp через IdP.
// oidc.go — Authorization Code Flow с PKCE (RFC 7636) для confidential client.
// Endpoints берутся из discovery-документа, ID token проверяется по JWKS.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/rbac"
	"github.com/marcelo-marini/sigo-web-app/internal/oidc"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
)

// jwksRefreshInterval — интервал фонового обновления JWKS.
const jwksRefreshInterval = time.Hour

// Discoverer — источник discovery-документа.
type Discoverer interface {
	Discover(ctx context.Context) (*oidc.Discovery, error)
}

// Config — параметры OIDC-клиента.
type Config struct {
	ClientID     string
	ClientSecret string
	// Scopes — запрашиваемые scopes (openid обязателен).
	Scopes []string
	// HTTPClient — клиент для token endpoint и JWKS.
	HTTPClient *http.Client
}

// OIDCClient — клиент входа через IdP.
type OIDCClient struct {
	discovery    Discoverer
	clientID     string
	clientSecret string
	scopes       []string
	httpClient   *http.Client
	logger       *slog.Logger

	// jwks создаётся при первой проверке ID token по jwks_uri из discovery.
	jwksMu  sync.Mutex
	jwks    keyfunc.Keyfunc
	jwksURI string
}

// NewOIDCClient создаёт клиент.
func NewOIDCClient(discovery Discoverer, cfg Config, logger *slog.Logger) *OIDCClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OIDCClient{
		discovery:    discovery,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       cfg.Scopes,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "oidc_login")),
	}
}

// NewOIDCClientWithKeyfunc создаёт клиент с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewOIDCClientWithKeyfunc(discovery Discoverer, cfg Config, kf keyfunc.Keyfunc, logger *slog.Logger) *OIDCClient {
	c := NewOIDCClient(discovery, cfg, logger)
	c.jwks = kf
	return c
}

// Tokens — результат обмена code или refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// IDClaims — claims ID token, используемые для сессии.
type IDClaims struct {
	jwt.RegisteredClaims
	Nonce     string `json:"nonce"`
	GivenName string `json:"given_name"`
	Email     string `json:"email"`
	// Role — строка или массив строк.
	Role any `json:"role"`
}

// oauthConfig строит oauth2.Config по discovery-документу.
func (c *OIDCClient) oauthConfig(ctx context.Context, redirectURI string) (*oauth2.Config, *oidc.Discovery, error) {
	doc, err := c.discovery.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	if doc.AuthorizationEndpoint == "" {
		return nil, nil, fmt.Errorf("%w: в discovery-документе отсутствует authorization_endpoint", errs.ErrAuth)
	}
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, doc, nil
}

// AuthCodeURL формирует URL redirect на login IdP.
// verifier — PKCE code_verifier, в URL уходит его S256 challenge.
func (c *OIDCClient) AuthCodeURL(ctx context.Context, redirectURI, state, nonce, verifier string) (string, error) {
	cfg, _, err := c.oauthConfig(ctx, redirectURI)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	), nil
}

// Exchange обменивает authorization code на токены.
func (c *OIDCClient) Exchange(ctx context.Context, code, redirectURI, verifier string) (*Tokens, error) {
	cfg, _, err := c.oauthConfig(ctx, redirectURI)
	if err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(c.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: обмен code на токены: %w", errs.ErrAuth, err)
	}
	return toTokens(tok, ""), nil
}

// Refresh обновляет токены по refresh token.
// Если IdP не выдал новый refresh token, сохраняется прежний.
func (c *OIDCClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token отсутствует", errs.ErrAuth)
	}
	cfg, _, err := c.oauthConfig(ctx, "")
	if err != nil {
		return nil, err
	}

	tok, err := cfg.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: обновление токенов: %w", errs.ErrAuth, err)
	}
	return toTokens(tok, refreshToken), nil
}

// VerifyIDToken проверяет подпись (RS256), issuer, audience, срок и nonce ID token.
func (c *OIDCClient) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*IDClaims, error) {
	if rawIDToken == "" {
		return nil, fmt.Errorf("%w: IdP не вернул id_token", errs.ErrAuth)
	}

	doc, err := c.discovery.Discover(ctx)
	if err != nil {
		return nil, err
	}
	kf, err := c.jwksKeyfunc(ctx, doc)
	if err != nil {
		return nil, err
	}

	claims := &IDClaims{}
	token, err := jwt.ParseWithClaims(rawIDToken, claims, kf.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(doc.Issuer),
		jwt.WithAudience(c.clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: проверка ID token: %w", errs.ErrAuth, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: невалидный ID token", errs.ErrAuth)
	}
	if nonce == "" || claims.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce ID token не совпадает", errs.ErrAuth)
	}
	return claims, nil
}

// NewSession собирает данные сессии из токенов и проверенных claims.
// sid, idp, s_hash и auth_time в сессию не попадают.
func NewSession(tokens *Tokens, claims *IDClaims) *session.Data {
	return &session.Data{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		ExpiresAt:    tokens.Expiry.Unix(),
		Subject:      claims.Subject,
		Username:     claims.GivenName,
		Email:        claims.Email,
		Roles:        rbac.RolesFromClaim(claims.Role),
	}
}

// LogoutURL формирует URL end-session endpoint IdP.
// Пустая строка — IdP не публикует end_session_endpoint.
func (c *OIDCClient) LogoutURL(ctx context.Context, idTokenHint, postLogoutRedirectURI string) (string, error) {
	doc, err := c.discovery.Discover(ctx)
	if err != nil {
		return "", err
	}
	if doc.EndSessionEndpoint == "" {
		return "", nil
	}

	params := url.Values{
		"client_id":                {c.clientID},
		"post_logout_redirect_uri": {postLogoutRedirectURI},
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	return doc.EndSessionEndpoint + "?" + params.Encode(), nil
}

// jwksKeyfunc возвращает keyfunc для jwks_uri; при смене jwks_uri пересоздаётся.
func (c *OIDCClient) jwksKeyfunc(ctx context.Context, doc *oidc.Discovery) (keyfunc.Keyfunc, error) {
	c.jwksMu.Lock()
	defer c.jwksMu.Unlock()

	if c.jwks != nil && (c.jwksURI == "" || c.jwksURI == doc.JWKSURI) {
		return c.jwks, nil
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: в discovery-документе отсутствует jwks_uri", errs.ErrAuth)
	}

	storage, err := jwkset.NewStorageFromHTTP(doc.JWKSURI, jwkset.HTTPClientStorageOptions{
		Client:          c.httpClient,
		Ctx:             context.WithoutCancel(ctx),
		RefreshInterval: jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			c.logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", doc.JWKSURI),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: загрузка JWKS %s: %w", errs.ErrAuth, doc.JWKSURI, err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("%w: создание keyfunc: %w", errs.ErrAuth, err)
	}

	c.jwks = kf
	c.jwksURI = doc.JWKSURI
	return kf, nil
}

func (c *OIDCClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func toTokens(tok *oauth2.Token, fallbackRefresh string) *Tokens {
	idToken, _ := tok.Extra("id_token").(string)
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		// IdP не сообщил expires_in
		expiry = time.Now().Add(5 * time.Minute)
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		IDToken:      idToken,
		Expiry:       expiry,
	}
}

// GenerateVerifier возвращает PKCE code_verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateState генерирует случайное значение для state и nonce.
func GenerateState() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("ошибка генерации state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
