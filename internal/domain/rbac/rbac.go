// Пакет rbac — роли пользователей WebApp.
// Роли приходят из claim "role" ID token (строка или массив строк).
// Страница профиля (user-info) доступна только роли admin.
package rbac

import "strings"

// Роли в порядке возрастания привилегий.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// RolesFromClaim разбирает значение claim "role".
// IdP присылает одну роль строкой, несколько — массивом.
// Пустые значения отбрасываются, регистр приводится к нижнему.
func RolesFromClaim(claim any) []string {
	var raw []string
	switch v := claim.(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// HasRole проверяет наличие роли в наборе.
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// HighestRole возвращает известную роль с максимальными привилегиями.
// Неизвестные роли игнорируются; пустой результат — ролей нет.
func HighestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}
