// Пакет session — сессия вошедшего пользователя.
// Данные сессии шифруются AES-256-GCM и хранятся в cookie; сервер
// состояния не держит. Сессия переносит delegated-токен пользователя
// от middleware к клиенту Standards API через context.
package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
)

// CookieName — имя cookie зашифрованной сессии.
const CookieName = "sigo_session"

// IDTokenCookieName — отдельный cookie с ID token (только для id_token_hint при logout).
const IDTokenCookieName = "sigo_id_token"

// MaxCookieSize — предел длины Set-Cookie, который браузеры сохраняют.
const MaxCookieSize = 4096

// ErrCookieTooLarge — зашифрованная сессия не помещается в cookie.
var ErrCookieTooLarge = errors.New("cookie сессии превышает 4096 байт")

// expiryLeeway — access token считается истёкшим за 30 секунд до срока.
const expiryLeeway = 30 * time.Second

// Data — содержимое сессии.
type Data struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	// IDToken хранится в IDTokenCookieName, не в основном cookie.
	IDToken string `json:"-"`
	// ExpiresAt — истечение access token (Unix timestamp).
	ExpiresAt int64 `json:"expires_at"`

	Subject string `json:"sub"`
	// Username — given_name из ID token.
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// IsExpired проверяет, истекает ли access token в ближайшие 30 секунд.
func (d *Data) IsExpired() bool {
	return time.Now().Add(expiryLeeway).Unix() >= d.ExpiresAt
}

// DelegatedToken возвращает access token пользователя как delegated-токен.
func (d *Data) DelegatedToken() *model.AccessToken {
	return &model.AccessToken{
		Value:  d.AccessToken,
		Expiry: time.Unix(d.ExpiresAt, 0),
		Kind:   model.TokenKindDelegated,
	}
}

// Manager шифрует и расшифровывает Data в cookie.
type Manager struct {
	gcm    cipher.AEAD
	secure bool
	maxAge time.Duration
}

// NewManager создаёт менеджер сессий.
// key — 32 байта для AES-256-GCM; secure — флаг Secure у cookie.
func NewManager(key []byte, secure bool, maxAge time.Duration) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("ключ сессии должен быть 32 байта, получено %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	return &Manager{gcm: gcm, secure: secure, maxAge: maxAge}, nil
}

// Encrypt шифрует Data в base64url-строку (nonce || ciphertext).
// IDToken не сериализуется.
func (m *Manager) Encrypt(data *Data) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации сессии: %w", err)
	}
	return m.seal(plaintext)
}

// Decrypt расшифровывает строку, полученную от Encrypt.
func (m *Manager) Decrypt(encrypted string) (*Data, error) {
	plaintext, err := m.open(encrypted)
	if err != nil {
		return nil, err
	}

	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сессии: %w", err)
	}
	return &data, nil
}

func (m *Manager) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(m.gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func (m *Manager) open(encrypted string) ([]byte, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := m.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка дешифрования сессии: %w", err)
	}
	return plaintext, nil
}

// SetCookie записывает зашифрованную сессию в ответ.
// ID token уходит в отдельный cookie. Если любой из cookie длиннее
// MaxCookieSize, ничего не записывается и возвращается ErrCookieTooLarge.
func (m *Manager) SetCookie(w http.ResponseWriter, data *Data) error {
	encrypted, err := m.Encrypt(data)
	if err != nil {
		return err
	}
	cookies := []*http.Cookie{m.cookie(CookieName, encrypted, int(m.maxAge.Seconds()))}

	if data.IDToken != "" {
		idEncrypted, err := m.seal([]byte(data.IDToken))
		if err != nil {
			return err
		}
		cookies = append(cookies, m.cookie(IDTokenCookieName, idEncrypted, int(m.maxAge.Seconds())))
	}

	for _, c := range cookies {
		if size := len(c.String()); size > MaxCookieSize {
			return fmt.Errorf("%w: %s = %d байт", ErrCookieTooLarge, c.Name, size)
		}
	}
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
	return nil
}

// FromRequest извлекает сессию из cookie запроса.
// Возвращает nil, nil если cookie отсутствует. Повреждённый cookie
// ID token не ошибка: теряется только id_token_hint.
func (m *Manager) FromRequest(r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	data, err := m.Decrypt(cookie.Value)
	if err != nil {
		return nil, err
	}

	if idCookie, err := r.Cookie(IDTokenCookieName); err == nil {
		if raw, err := m.open(idCookie.Value); err == nil {
			data.IDToken = string(raw)
		}
	}
	return data, nil
}

// ClearCookie удаляет cookie сессии и ID token (logout).
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(CookieName, "", -1))
	http.SetCookie(w, m.cookie(IDTokenCookieName, "", -1))
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// --- Контекст запроса ---

type contextKey struct{}

// WithSession помещает сессию в контекст.
func WithSession(ctx context.Context, data *Data) context.Context {
	return context.WithValue(ctx, contextKey{}, data)
}

// FromContext возвращает сессию из контекста или nil.
func FromContext(ctx context.Context) *Data {
	data, _ := ctx.Value(contextKey{}).(*Data)
	return data
}
