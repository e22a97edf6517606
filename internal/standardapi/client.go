// Пакет standardapi — HTTP-клиент Standards API (через API Gateway).
//
// Все вызовы Resource API авторизуются service token; user-info
// endpoint IdP вызывается delegated-токеном вошедшего пользователя.
// Create/Update перед отправкой загружают вложение и подставляют его URL.
package standardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/oidc"
)

// maxErrorBody — сколько байт тела ошибки upstream сохраняется в UpstreamError.
const maxErrorBody = 1024

var upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sigo_upstream_requests_total",
	Help: "Запросы WebApp к Standards API и IdP.",
}, []string{"operation", "status"})

// TokenSource — источник токенов двух видов.
type TokenSource interface {
	ServiceToken(ctx context.Context) (*model.AccessToken, error)
	DelegatedToken(ctx context.Context) (*model.AccessToken, error)
}

// FileUploader — загрузка вложения, возвращает подписанный URL.
type FileUploader interface {
	Upload(ctx context.Context, file *model.FileUpload, code string) (string, error)
}

// Discoverer — источник OIDC discovery-документа.
type Discoverer interface {
	Discover(ctx context.Context) (*oidc.Discovery, error)
}

// Client — клиент Standards API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	uploader   FileUploader
	discovery  Discoverer
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент. baseURL — адрес API Gateway без trailing slash.
func New(
	baseURL string,
	tokens TokenSource,
	uploader FileUploader,
	discovery Discoverer,
	httpClient *http.Client,
	logger *slog.Logger,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		uploader:   uploader,
		discovery:  discovery,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "standard_api_client")),
	}
}

// ListStandards — GET /standards. 204 No Content — пустой список.
func (c *Client) ListStandards(ctx context.Context) ([]model.Standard, error) {
	resp, err := c.do(ctx, "ListStandards", http.MethodGet, "/standards", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []model.Standard{}, nil
	}
	if err := checkStatus("ListStandards", resp); err != nil {
		return nil, err
	}

	var standards []model.Standard
	if err := json.NewDecoder(resp.Body).Decode(&standards); err != nil {
		return nil, fmt.Errorf("ListStandards: декодирование ответа: %w", err)
	}
	if standards == nil {
		standards = []model.Standard{}
	}
	return standards, nil
}

// GetStandard — GET /standards/{id}. 404 — errs.ErrNotFound.
func (c *Client) GetStandard(ctx context.Context, id string) (*model.Standard, error) {
	resp, err := c.do(ctx, "GetStandard", http.MethodGet, "/standards/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("GetStandard %s: %w", id, errs.ErrNotFound)
	}
	if err := checkStatus("GetStandard", resp); err != nil {
		return nil, err
	}

	var std model.Standard
	if err := json.NewDecoder(resp.Body).Decode(&std); err != nil {
		return nil, fmt.Errorf("GetStandard: декодирование ответа: %w", err)
	}
	return &std, nil
}

// CreateStandard — POST /standards. Приложенный файл загружается
// до запроса, его URL заменяет draft.URL.
func (c *Client) CreateStandard(ctx context.Context, draft *model.StandardDraft) (*model.Standard, error) {
	if err := c.resolveAttachment(ctx, draft); err != nil {
		return nil, err
	}
	// id назначает сервер
	payload := *draft
	payload.ID = ""
	return c.send(ctx, "CreateStandard", http.MethodPost, &payload)
}

// UpdateStandard — PUT /standards. Без нового файла URL сохраняется.
// 404 — errs.ErrNotFound.
func (c *Client) UpdateStandard(ctx context.Context, draft *model.StandardDraft) (*model.Standard, error) {
	if draft.ID == "" {
		return nil, &errs.ValidationError{Fields: map[string]string{"id": "required"}}
	}
	if err := c.resolveAttachment(ctx, draft); err != nil {
		return nil, err
	}
	return c.send(ctx, "UpdateStandard", http.MethodPut, draft)
}

// DeleteStandard — DELETE /standards/{id}. Повторное удаление (404) считается успехом.
func (c *Client) DeleteStandard(ctx context.Context, id string) error {
	resp, err := c.do(ctx, "DeleteStandard", http.MethodDelete, "/standards/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("Норматив уже удалён", slog.String("id", id))
		return nil
	}
	return checkStatus("DeleteStandard", resp)
}

// GetCurrentUserInfo запрашивает claims пользователя у user-info endpoint IdP
// с delegated-токеном. Массивы склеиваются через запятую.
func (c *Client) GetCurrentUserInfo(ctx context.Context) (model.UserInfo, error) {
	doc, err := c.discovery.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if doc.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("%w: в discovery-документе отсутствует userinfo_endpoint", errs.ErrAuth)
	}

	tok, err := c.tokens.DelegatedToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok.Kind != model.TokenKindDelegated {
		return nil, fmt.Errorf("%w: для user-info требуется delegated token, получен %s", errs.ErrAuth, tok.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("GetCurrentUserInfo: создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GetCurrentUserInfo: запрос к IdP: %w", err)
	}
	defer resp.Body.Close()
	upstreamRequestsTotal.WithLabelValues("GetCurrentUserInfo", statusLabel(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: user-info endpoint вернул статус %d: %s", errs.ErrAuth, resp.StatusCode, string(body))
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: декодирование user-info: %w", errs.ErrAuth, err)
	}
	return flattenClaims(claims), nil
}

// resolveAttachment загружает приложенный файл и записывает URL в черновик.
func (c *Client) resolveAttachment(ctx context.Context, draft *model.StandardDraft) error {
	switch a := draft.Attachment().(type) {
	case model.NoFile:
		return nil
	case model.FileToUpload:
		fileURL, err := c.uploader.Upload(ctx, a.File, draft.Code)
		if err != nil {
			return err
		}
		draft.URL = fileURL
		draft.File = nil
		return nil
	default:
		return fmt.Errorf("неизвестный вид вложения %T", a)
	}
}

// send отправляет черновик как JSON и декодирует созданную/обновлённую запись.
func (c *Client) send(ctx context.Context, op, method string, draft *model.StandardDraft) (*model.Standard, error) {
	resp, err := c.do(ctx, op, method, "/standards", draft)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodPut {
		return nil, fmt.Errorf("%s %s: %w", op, draft.ID, errs.ErrNotFound)
	}
	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var std model.Standard
	if resp.StatusCode == http.StatusNoContent {
		return &std, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&std); err != nil {
		if errors.Is(err, io.EOF) {
			return &std, nil
		}
		return nil, fmt.Errorf("%s: декодирование ответа: %w", op, err)
	}
	return &std, nil
}

// do выполняет запрос к Resource API с service token.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	tok, err := c.tokens.ServiceToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: получение service token: %w", op, err)
	}
	if tok.Kind != model.TokenKindService {
		return nil, fmt.Errorf("%w: %s: для Resource API требуется service token, получен %s", errs.ErrAuth, op, tok.Kind)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: сериализация тела запроса: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: создание запроса: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%s: запрос к API Gateway: %w", op, err)
	}
	upstreamRequestsTotal.WithLabelValues(op, statusLabel(resp.StatusCode)).Inc()

	c.logger.Debug("Запрос к Standards API",
		slog.String("operation", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// checkStatus возвращает UpstreamError для статусов вне 2xx.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &errs.UpstreamError{Operation: op, Status: resp.StatusCode, Body: string(body)}
}

func statusLabel(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// flattenClaims приводит JSON claims к отображению строка → строка.
func flattenClaims(claims map[string]any) model.UserInfo {
	info := make(model.UserInfo, len(claims))
	for name, value := range claims {
		info[name] = claimString(value)
	}
	return info
}

func claimString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, claimString(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		// числа и bool — в JSON-представлении (1700000000, true)
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
