// Пакет errs — таксономия ошибок Sigo WebApp.
// Сервисный слой возвращает эти ошибки (обёрнутые через %w),
// HTTP-слой сопоставляет их со статус-кодами через errors.Is / errors.As.
package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAuth — не удалось получить или проверить токен (IdP, сессия).
	// Автоматически не повторяется.
	ErrAuth = errors.New("ошибка аутентификации")
	// ErrNotFound — upstream явно сообщил об отсутствии ресурса.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrStorage — загрузка в объектное хранилище не удалась после всех попыток.
	ErrStorage = errors.New("ошибка объектного хранилища")
	// ErrValidation — некорректные или неполные входные данные.
	ErrValidation = errors.New("ошибка валидации")
)

// UpstreamError — Resource API вернул статус вне диапазона 2xx.
type UpstreamError struct {
	// Operation — имя операции клиента (ListStandards, GetStandard, ...).
	Operation string
	// Status — HTTP статус-код ответа upstream.
	Status int
	// Body — начало тела ответа (для диагностики).
	Body string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream вернул статус %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s: upstream вернул статус %d: %s", e.Operation, e.Status, e.Body)
}

// StorageError — загрузка файла не удалась после исчерпания политики повторов.
// errors.Is(err, ErrStorage) возвращает true.
type StorageError struct {
	// Object — имя объекта в хранилище.
	Object string
	// Attempts — количество выполненных попыток (0 — ошибка до первой попытки).
	Attempts int
	// Err — последняя ошибка.
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("загрузка объекта %q не удалась (попыток: %d): %v", e.Object, e.Attempts, e.Err)
}

// Unwrap возвращает последнюю ошибку хранилища.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is сопоставляет StorageError с ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// ValidationError — ошибка валидации с перечнем полей.
// errors.Is(err, ErrValidation) возвращает true.
type ValidationError struct {
	// Fields — имя поля (snake_case) → код правила (required, max, ...).
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "ошибка валидации: " + strings.Join(parts, ", ")
}

// Is сопоставляет ValidationError с ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsUpstream проверяет, является ли err ошибкой upstream, и возвращает её.
func IsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
