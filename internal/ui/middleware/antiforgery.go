// antiforgery.go — защита от CSRF по схеме double-submit cookie.
package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	apierrors "github.com/marcelo-marini/sigo-web-app/internal/api/errors"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
)

// multipartMemory — часть multipart-формы, хранимая в памяти; остальное во временных файлах.
const multipartMemory = 8 << 20

const (
	// AntiforgeryCookieName — cookie с anti-forgery токеном.
	AntiforgeryCookieName = "sigo_antiforgery"
	// AntiforgeryFormField — поле формы с токеном.
	AntiforgeryFormField = "__RequestVerificationToken"
	// AntiforgeryHeader — заголовок с токеном (для fetch/XHR).
	AntiforgeryHeader = "X-CSRF-Token"
)

type antiforgeryKey struct{}

// Antiforgery выдаёт токен в cookie и проверяет его для небезопасных методов.
type Antiforgery struct {
	secure   bool
	messages *i18n.Bundle
	logger   *slog.Logger
}

// NewAntiforgery создаёт middleware. secure — флаг Secure у cookie.
func NewAntiforgery(secure bool, messages *i18n.Bundle, logger *slog.Logger) *Antiforgery {
	return &Antiforgery{
		secure:   secure,
		messages: messages,
		logger:   logger.With(slog.String("component", "antiforgery")),
	}
}

// Middleware возвращает HTTP middleware.
// GET/HEAD/OPTIONS — токен выдаётся при отсутствии. Прочие методы
// требуют совпадения токена формы (или заголовка) с cookie, иначе 400.
// Тело формы разбирается здесь, обработчики читают уже разобранную форму.
func (af *Antiforgery) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookieToken := ""
			if c, err := r.Cookie(AntiforgeryCookieName); err == nil {
				cookieToken = c.Value
			}

			if isSafeMethod(r.Method) {
				if cookieToken == "" {
					token, err := newAntiforgeryToken()
					if err != nil {
						af.logger.Error("Ошибка генерации anti-forgery токена", slog.String("error", err.Error()))
						apierrors.InternalError(w, af.messages.T(r.Context(), "error.internal"))
						return
					}
					cookieToken = token
					http.SetCookie(w, &http.Cookie{
						Name:     AntiforgeryCookieName,
						Value:    token,
						Path:     "/",
						HttpOnly: true,
						Secure:   af.secure,
						SameSite: http.SameSiteStrictMode,
					})
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), antiforgeryKey{}, cookieToken)))
				return
			}

			if err := ParseForm(r); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeBadRequest,
						af.messages.T(r.Context(), "validation.file_too_large"))
					return
				}
				apierrors.BadRequest(w, af.messages.T(r.Context(), "error.bad_request"))
				return
			}

			submitted := r.Header.Get(AntiforgeryHeader)
			if submitted == "" {
				submitted = r.PostFormValue(AntiforgeryFormField)
			}
			if cookieToken == "" || subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submitted)) != 1 {
				af.logger.Warn("Anti-forgery токен не прошёл проверку",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.BadRequest(w, af.messages.T(r.Context(), "error.antiforgery"))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), antiforgeryKey{}, cookieToken)))
		})
	}
}

// AntiforgeryToken возвращает токен текущего запроса для вставки в форму.
func AntiforgeryToken(ctx context.Context) string {
	token, _ := ctx.Value(antiforgeryKey{}).(string)
	return token
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// ParseForm разбирает urlencoded или multipart тело запроса.
// Повторный вызов не перечитывает тело.
func ParseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

func newAntiforgeryToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
