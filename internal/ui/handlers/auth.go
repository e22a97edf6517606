// auth.go — вход и выход через IdP (Authorization Code + PKCE).
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/marcelo-marini/sigo-web-app/internal/api/errors"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/auth"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
)

// stateCookieName — cookie с state, nonce и PKCE verifier на время входа.
const stateCookieName = "sigo_auth_state"

// stateCookieMaxAge — 5 минут.
const stateCookieMaxAge = 5 * 60

// LoginFlow — операции OIDC-клиента, используемые обработчиками входа.
type LoginFlow interface {
	AuthCodeURL(ctx context.Context, redirectURI, state, nonce, verifier string) (string, error)
	Exchange(ctx context.Context, code, redirectURI, verifier string) (*auth.Tokens, error)
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*auth.IDClaims, error)
	LogoutURL(ctx context.Context, idTokenHint, postLogoutRedirectURI string) (string, error)
}

// AuthHandler — обработчики входа и выхода.
type AuthHandler struct {
	flow     LoginFlow
	sessions *session.Manager
	messages *i18n.Bundle
	// publicURL — внешний адрес WebApp; пусто — вычисляется по запросу.
	publicURL    string
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler создаёт обработчик.
func NewAuthHandler(flow LoginFlow, sessions *session.Manager, messages *i18n.Bundle, publicURL string, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		flow:         flow,
		sessions:     sessions,
		messages:     messages,
		publicURL:    strings.TrimRight(publicURL, "/"),
		secureCookie: secureCookie,
		logger:       logger.With(slog.String("component", "ui_auth")),
	}
}

type stateData struct {
	State        string `json:"state"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"code_verifier"`
}

// HandleLogin — GET /auth/login. Redirect на authorize endpoint IdP.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации state", slog.String("error", err.Error()))
		apierrors.InternalError(w, h.messages.T(r.Context(), "error.internal"))
		return
	}
	nonce, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации nonce", slog.String("error", err.Error()))
		apierrors.InternalError(w, h.messages.T(r.Context(), "error.internal"))
		return
	}
	sd := &stateData{State: state, Nonce: nonce, CodeVerifier: auth.GenerateVerifier()}

	authorizeURL, err := h.flow.AuthCodeURL(r.Context(), h.redirectURI(r), sd.State, sd.Nonce, sd.CodeVerifier)
	if err != nil {
		h.logger.Error("IdP недоступен", slog.String("error", err.Error()))
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.CodeUpstreamUnavailable, h.messages.T(r.Context(), "auth.idp_unavailable"))
		return
	}

	sdJSON, _ := json.Marshal(sd)
	h.setStateCookie(w, base64.RawURLEncoding.EncodeToString(sdJSON), stateCookieMaxAge)

	h.logger.Debug("Redirect на login IdP")
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// HandleCallback — GET /auth/callback. Обмен code на токены, создание сессии.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("IdP вернул ошибку авторизации",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		apierrors.BadRequest(w, h.messages.Tf(r.Context(), "auth.denied", errCode))
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		apierrors.BadRequest(w, h.messages.T(r.Context(), "auth.missing_params"))
		return
	}

	sd, err := readState(r)
	if err != nil {
		h.logger.Warn("State cookie отсутствует или повреждён", slog.String("error", err.Error()))
		apierrors.BadRequest(w, h.messages.T(r.Context(), "auth.login_expired"))
		return
	}
	if sd.State != state {
		h.logger.Warn("State mismatch")
		apierrors.BadRequest(w, h.messages.T(r.Context(), "auth.invalid_state"))
		return
	}
	h.setStateCookie(w, "", -1)

	tokens, err := h.flow.Exchange(r.Context(), code, h.redirectURI(r), sd.CodeVerifier)
	if err != nil {
		h.logger.Error("Ошибка обмена code на токены", slog.String("error", err.Error()))
		apierrors.Unauthorized(w, h.messages.T(r.Context(), "auth.failed"))
		return
	}

	claims, err := h.flow.VerifyIDToken(r.Context(), tokens.IDToken, sd.Nonce)
	if err != nil {
		h.logger.Warn("ID token не прошёл проверку", slog.String("error", err.Error()))
		apierrors.Unauthorized(w, h.messages.T(r.Context(), "auth.failed"))
		return
	}

	data := auth.NewSession(tokens, claims)
	if err := h.sessions.SetCookie(w, data); err != nil {
		h.logger.Error("Ошибка установки cookie сессии", slog.String("error", err.Error()))
		apierrors.InternalError(w, h.messages.T(r.Context(), "error.internal"))
		return
	}

	h.logger.Info("Пользователь аутентифицирован",
		slog.String("subject", data.Subject),
		slog.Any("roles", data.Roles),
	)
	http.Redirect(w, r, "/standards", http.StatusFound)
}

// HandleLogout — POST /auth/logout. Очистка сессии и redirect на end-session IdP.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	idTokenHint := ""
	if data, err := h.sessions.FromRequest(r); err == nil && data != nil {
		idTokenHint = data.IDToken
	}
	h.sessions.ClearCookie(w)

	target := "/"
	logoutURL, err := h.flow.LogoutURL(r.Context(), idTokenHint, h.baseURL(r)+"/")
	if err != nil {
		h.logger.Warn("Не удалось получить end-session endpoint", slog.String("error", err.Error()))
	} else if logoutURL != "" {
		target = logoutURL
	}

	h.logger.Info("Пользователь выполняет logout")
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func readState(r *http.Request) (*stateData, error) {
	c, err := r.Cookie(stateCookieName)
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, err
	}
	var sd stateData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

func (h *AuthHandler) redirectURI(r *http.Request) string {
	return h.baseURL(r) + "/auth/callback"
}

// baseURL — SIGO_PUBLIC_URL или scheme + host запроса с учётом X-Forwarded-*.
func (h *AuthHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}
	return scheme + "://" + host
}
