// Пакет handlers — HTTP-обработчики WebApp.
// standards.go — список, создание, редактирование и удаление нормативов,
// страница user-info для администраторов.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/marcelo-marini/sigo-web-app/internal/api/errors"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/rbac"
	"github.com/marcelo-marini/sigo-web-app/internal/session"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/i18n"
	"github.com/marcelo-marini/sigo-web-app/internal/ui/middleware"
)

// fileField — имя поля формы с вложением.
const fileField = "file"

// StandardService — операции Standards API, используемые обработчиками.
type StandardService interface {
	ListStandards(ctx context.Context) ([]model.Standard, error)
	GetStandard(ctx context.Context, id string) (*model.Standard, error)
	CreateStandard(ctx context.Context, draft *model.StandardDraft) (*model.Standard, error)
	UpdateStandard(ctx context.Context, draft *model.StandardDraft) (*model.Standard, error)
	DeleteStandard(ctx context.Context, id string) error
	GetCurrentUserInfo(ctx context.Context) (model.UserInfo, error)
}

// StandardsHandler — обработчики нормативов.
type StandardsHandler struct {
	service  StandardService
	validate *validator.Validate
	messages *i18n.Bundle
	logger   *slog.Logger
}

// NewStandardsHandler создаёт обработчик.
func NewStandardsHandler(service StandardService, messages *i18n.Bundle, logger *slog.Logger) *StandardsHandler {
	return &StandardsHandler{
		service:  service,
		validate: newValidator(),
		messages: messages,
		logger:   logger.With(slog.String("component", "standards_handler")),
	}
}

// standardView — запись норматива с датами для отображения (dd/MM/yyyy).
type standardView struct {
	model.Standard
	CreatedAtDisplay string `json:"created_at_display"`
	UpdatedAtDisplay string `json:"updated_at_display"`
}

func newStandardView(s *model.Standard) standardView {
	return standardView{
		Standard:         *s,
		CreatedAtDisplay: s.FormattedCreatedAt(),
		UpdatedAtDisplay: s.FormattedUpdatedAt(),
	}
}

type listResponse struct {
	Items []standardView `json:"items"`
	Total int            `json:"total"`
}

type formResponse struct {
	AntiforgeryToken string        `json:"antiforgery_token"`
	Standard         *standardView `json:"standard,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Index — GET /. Redirect на список.
func (h *StandardsHandler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/standards", http.StatusFound)
}

// Login — GET /login. После прохождения аутентификации — redirect на список.
func (h *StandardsHandler) Login(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/standards", http.StatusFound)
}

// List — GET /standards.
func (h *StandardsHandler) List(w http.ResponseWriter, r *http.Request) {
	h.logSessionClaims(r.Context())

	standards, err := h.service.ListStandards(r.Context())
	if err != nil {
		h.writeError(w, r, "ListStandards", err)
		return
	}

	items := make([]standardView, 0, len(standards))
	for i := range standards {
		items = append(items, newStandardView(&standards[i]))
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: len(items)})
}

// New — GET /standards/new. Возвращает anti-forgery токен для формы.
func (h *StandardsHandler) New(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, formResponse{AntiforgeryToken: middleware.AntiforgeryToken(r.Context())})
}

// Create — POST /standards. Успех — 303 на список.
func (h *StandardsHandler) Create(w http.ResponseWriter, r *http.Request) {
	draft, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	defer closeFile(draft)
	draft.ID = ""

	std, err := h.service.CreateStandard(r.Context(), draft)
	if err != nil {
		h.writeError(w, r, "CreateStandard", err)
		return
	}

	h.logger.Info("Норматив создан",
		slog.String("id", std.ID),
		slog.String("code", draft.Code),
		slog.String("subject", subjectOf(r.Context())),
	)
	http.Redirect(w, r, "/standards", http.StatusSeeOther)
}

// Edit — GET /standards/{id}/edit.
func (h *StandardsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	std, err := h.service.GetStandard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "GetStandard", err)
		return
	}

	view := newStandardView(std)
	writeJSON(w, http.StatusOK, formResponse{
		AntiforgeryToken: middleware.AntiforgeryToken(r.Context()),
		Standard:         &view,
	})
}

// Update — POST /standards/{id}/edit. Успех — 303 на список.
func (h *StandardsHandler) Update(w http.ResponseWriter, r *http.Request) {
	draft, ok := h.readDraft(w, r)
	if !ok {
		return
	}
	defer closeFile(draft)
	draft.ID = chi.URLParam(r, "id")

	if _, err := h.service.UpdateStandard(r.Context(), draft); err != nil {
		h.writeError(w, r, "UpdateStandard", err)
		return
	}

	h.logger.Info("Норматив обновлён",
		slog.String("id", draft.ID),
		slog.String("subject", subjectOf(r.Context())),
	)
	http.Redirect(w, r, "/standards", http.StatusSeeOther)
}

// Delete — DELETE /standards/{id}.
func (h *StandardsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteStandard(r.Context(), id); err != nil {
		h.writeError(w, r, "DeleteStandard", err)
		return
	}

	h.logger.Info("Норматив удалён",
		slog.String("id", id),
		slog.String("subject", subjectOf(r.Context())),
	)
	writeJSON(w, http.StatusOK, messageResponse{Message: h.messages.T(r.Context(), "standard.deleted")})
}

// UserInfo — GET /userinfo. Только для роли admin.
func (h *StandardsHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil || !rbac.HasRole(sess.Roles, rbac.RoleAdmin) {
		apierrors.Forbidden(w, h.messages.T(r.Context(), "error.forbidden"))
		return
	}

	info, err := h.service.GetCurrentUserInfo(r.Context())
	if err != nil {
		h.writeError(w, r, "GetCurrentUserInfo", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// readDraft собирает черновик из формы (urlencoded или multipart) и проверяет его.
// При ошибке ответ уже записан.
func (h *StandardsHandler) readDraft(w http.ResponseWriter, r *http.Request) (*model.StandardDraft, bool) {
	if err := middleware.ParseForm(r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeBadRequest,
				h.messages.T(r.Context(), "validation.file_too_large"))
			return nil, false
		}
		apierrors.BadRequest(w, h.messages.T(r.Context(), "error.bad_request"))
		return nil, false
	}

	draft := &model.StandardDraft{
		Description: strings.TrimSpace(r.PostFormValue("description")),
		Status:      strings.TrimSpace(r.PostFormValue("status")),
		Type:        strings.TrimSpace(r.PostFormValue("type")),
		Owner:       strings.TrimSpace(r.PostFormValue("owner")),
		Code:        strings.TrimSpace(r.PostFormValue("code")),
		URL:         strings.TrimSpace(r.PostFormValue("url")),
	}

	if r.MultipartForm != nil {
		if headers := r.MultipartForm.File[fileField]; len(headers) > 0 {
			fh := headers[0]
			f, err := fh.Open()
			if err != nil {
				h.logger.Warn("Ошибка чтения вложения", slog.String("error", err.Error()))
				apierrors.BadRequest(w, h.messages.T(r.Context(), "error.bad_request"))
				return nil, false
			}
			draft.File = &model.FileUpload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Content:     f,
			}
		}
	}

	if err := validateDraft(h.validate, draft); err != nil {
		closeFile(draft)
		h.writeError(w, r, "validate", err)
		return nil, false
	}
	return draft, true
}

// writeError сопоставляет ошибку со статусом и пишет локализованный ответ.
func (h *StandardsHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status, code := apierrors.Classify(err)
	message := h.messages.T(ctx, messageKey(code))

	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		apierrors.FromError(w, &errs.ValidationError{Fields: localizeFields(ctx, h.messages, ve.Fields)}, message)
		return
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(ctx, level, "Ошибка операции",
		slog.String("operation", op),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	apierrors.FromError(w, err, message)
}

func messageKey(code string) string {
	switch code {
	case apierrors.CodeValidationError:
		return "validation.failed"
	case apierrors.CodeNotFound:
		return "error.not_found"
	case apierrors.CodeUnauthorized:
		return "error.unauthorized"
	case apierrors.CodeUpstreamUnavailable:
		return "error.upstream"
	case apierrors.CodeStorageError:
		return "error.storage"
	default:
		return "error.internal"
	}
}

// logSessionClaims пишет в Debug сведения о сессии. Значения токенов не логируются.
func (h *StandardsHandler) logSessionClaims(ctx context.Context) {
	if !h.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	sess := session.FromContext(ctx)
	if sess == nil {
		return
	}
	h.logger.Debug("Сессия пользователя",
		slog.String("sub", sess.Subject),
		slog.String("given_name", sess.Username),
		slog.Any("roles", sess.Roles),
		slog.Int64("access_token_expires_at", sess.ExpiresAt),
		slog.Bool("has_refresh_token", sess.RefreshToken != ""),
	)
}

func closeFile(draft *model.StandardDraft) {
	if draft.File == nil {
		return
	}
	if c, ok := draft.File.Content.(io.Closer); ok {
		_ = c.Close()
	}
}

func subjectOf(ctx context.Context) string {
	if sess := session.FromContext(ctx); sess != nil {
		return sess.Subject
	}
	return ""
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
