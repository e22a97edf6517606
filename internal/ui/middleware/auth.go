// Пакет middleware — HTTP middleware WebApp.
// auth.go — проверка сессии (cookie), авто-refresh токенов.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/marcelo-marini/sigo-web-app/internal/session"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/auth"
)

// LoginPath — страница входа, куда перенаправляются запросы без сессии.
const LoginPath = "/auth/login"

// Refresher обновляет токены по refresh token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.Tokens, error)
}

// SessionAuth — middleware аутентификации пользователя.
// Извлекает сессию из зашифрованного cookie, при истечении access token
// обновляет его, без сессии перенаправляет на LoginPath.
type SessionAuth struct {
	sessions  *session.Manager
	refresher Refresher
	logger    *slog.Logger
}

// NewSessionAuth создаёт middleware.
func NewSessionAuth(sessions *session.Manager, refresher Refresher, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		sessions:  sessions,
		refresher: refresher,
		logger:    logger.With(slog.String("component", "session_auth")),
	}
}

// Middleware возвращает HTTP middleware.
func (sa *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := sa.sessions.FromRequest(r)
			if err != nil {
				sa.logger.Debug("Ошибка чтения сессии",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				sa.sessions.ClearCookie(w)
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			if data == nil {
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}

			if data.IsExpired() {
				refreshed, refreshErr := sa.refresh(r.Context(), data)
				if refreshErr != nil {
					sa.logger.Info("Не удалось обновить сессию, redirect на login",
						slog.String("subject", data.Subject),
						slog.String("error", refreshErr.Error()),
					)
					sa.sessions.ClearCookie(w)
					http.Redirect(w, r, LoginPath, http.StatusFound)
					return
				}

				if err := sa.sessions.SetCookie(w, refreshed); err != nil {
					sa.logger.Error("Ошибка обновления cookie сессии",
						slog.String("error", err.Error()),
					)
					sa.sessions.ClearCookie(w)
					http.Redirect(w, r, LoginPath, http.StatusFound)
					return
				}

				data = refreshed
				sa.logger.Debug("Сессия обновлена через refresh token",
					slog.String("subject", data.Subject),
				)
			}

			annotateSubject(r.Context(), data.Subject)
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), data)))
		})
	}
}

// refresh обновляет токены, сохраняя данные пользователя.
func (sa *SessionAuth) refresh(ctx context.Context, data *session.Data) (*session.Data, error) {
	tokens, err := sa.refresher.Refresh(ctx, data.RefreshToken)
	if err != nil {
		return nil, err
	}

	refreshed := *data
	refreshed.AccessToken = tokens.AccessToken
	refreshed.RefreshToken = tokens.RefreshToken
	refreshed.ExpiresAt = tokens.Expiry.Unix()
	if tokens.IDToken != "" {
		refreshed.IDToken = tokens.IDToken
	}
	return &refreshed, nil
}
