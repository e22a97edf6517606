// token.go — токены доступа для исходящих вызовов.
package model

import "time"

// TokenKind — чей токен: самого сервиса или вошедшего пользователя.
type TokenKind string

const (
	// TokenKindService — токен сервиса (client credentials grant).
	TokenKindService TokenKind = "service"
	// TokenKindDelegated — токен пользователя, полученный при входе.
	TokenKindDelegated TokenKind = "delegated"
)

// AccessToken — bearer-токен с временем истечения.
// Токены разных видов не взаимозаменяемы.
type AccessToken struct {
	Value  string
	Expiry time.Time
	Kind   TokenKind
}

// Expired проверяет, истекает ли токен в течение leeway.
// Нулевое Expiry означает «срок неизвестен» — токен считается действующим.
func (t *AccessToken) Expired(leeway time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !time.Now().Add(leeway).Before(t.Expiry)
}

// UserInfo — плоское отображение claim type → claim value из user-info endpoint.
type UserInfo map[string]string
