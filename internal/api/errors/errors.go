// Пакет errors — ответы с ошибками в едином формате Sigo WebApp.
// Формат: {"error": {"code": "...", "message": "...", "fields": {...}}}.
// FromError сопоставляет таксономию errs со статус-кодами.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
)

// Коды ошибок.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeUpstreamUnavailable = "UPSTREAM_ERROR"
	CodeStorageError        = "STORAGE_ERROR"
	CodeBadRequest          = "BAD_REQUEST"
	CodeInternalError       = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	write(w, statusCode, errorDetail{Code: code, Message: message})
}

// WriteValidation — 422 с сообщениями по полям.
func WriteValidation(w http.ResponseWriter, message string, fields map[string]string) {
	write(w, http.StatusUnprocessableEntity, errorDetail{
		Code:    CodeValidationError,
		Message: message,
		Fields:  fields,
	})
}

func write(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// Classify возвращает HTTP статус и код для ошибки сервисного слоя.
func Classify(err error) (int, string) {
	switch {
	case stderrors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity, CodeValidationError
	case stderrors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, errs.ErrAuth):
		return http.StatusUnauthorized, CodeUnauthorized
	case stderrors.Is(err, errs.ErrStorage):
		return http.StatusBadGateway, CodeStorageError
	}
	if _, ok := errs.IsUpstream(err); ok {
		return http.StatusBadGateway, CodeUpstreamUnavailable
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromError записывает ответ для ошибки сервисного слоя.
// Детали 5xx наружу не передаются.
func FromError(w http.ResponseWriter, err error, message string) {
	status, code := Classify(err)
	var ve *errs.ValidationError
	if stderrors.As(err, &ve) {
		WriteValidation(w, message, ve.Fields)
		return
	}
	WriteError(w, status, code, message)
}

// --- Конструкторы для типичных ошибок ---

// BadRequest — 400 некорректный запрос.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
