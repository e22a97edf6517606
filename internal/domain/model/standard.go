// Пакет model — доменные модели Sigo WebApp.
// standard.go — Standard (запись Resource API) и StandardDraft (вход create/update).
package model

import (
	"io"
	"path/filepath"
	"strings"
)

// DisplayDateLayout — формат отображения дат в UI (dd/MM/yyyy).
const DisplayDateLayout = "02/01/2006"

// Standard — запись норматива, принадлежащая Resource API.
// Сервис хранит только временные копии.
type Standard struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	Owner       string    `json:"owner"`
	Code        string    `json:"code"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// FormattedCreatedAt возвращает дату создания в формате dd/MM/yyyy.
func (s *Standard) FormattedCreatedAt() string {
	return s.CreatedAt.Format(DisplayDateLayout)
}

// FormattedUpdatedAt возвращает дату обновления в формате dd/MM/yyyy.
func (s *Standard) FormattedUpdatedAt() string {
	return s.UpdatedAt.Format(DisplayDateLayout)
}

// StandardDraft — входные данные create/update.
// Собирается из формы, используется один раз за запрос.
// File не сериализуется: перед отправкой upstream файл заменяется на URL.
type StandardDraft struct {
	// ID — только для update, при create не передаётся.
	ID          string `json:"id,omitempty"`
	Description string `json:"description" validate:"required,max=500"`
	URL         string `json:"url,omitempty"`
	Status      string `json:"status" validate:"required,max=50"`
	Type        string `json:"type" validate:"required,max=50"`
	Owner       string `json:"owner" validate:"required,max=100"`
	Code        string `json:"code" validate:"required,max=50"`

	File *FileUpload `json:"-"`
}

// FileUpload — файл, приложенный к черновику.
type FileUpload struct {
	// Filename — исходное имя файла у клиента.
	Filename string
	// ContentType — MIME-тип, заявленный клиентом.
	ContentType string
	// Size — размер в байтах (может быть 0, если неизвестен).
	Size int64
	// Content — содержимое; читается ровно один раз.
	Content io.Reader
}

// Ext возвращает расширение исходного имени файла в нижнем регистре (".pdf").
func (f *FileUpload) Ext() string {
	return strings.ToLower(filepath.Ext(f.Filename))
}

// --- Вложение: NoFile | FileToUpload ---

// Attachment — результат проверки черновика на наличие файла.
// Реализации: NoFile, FileToUpload.
type Attachment interface {
	isAttachment()
}

// NoFile — файл не приложен, URL черновика сохраняется как есть.
type NoFile struct{}

// FileToUpload — файл приложен и должен быть загружен до отправки upstream.
type FileToUpload struct {
	File *FileUpload
}

func (NoFile) isAttachment()       {}
func (FileToUpload) isAttachment() {}

// Attachment классифицирует вложение черновика.
// Файл без содержимого (пустое поле формы) считается отсутствующим.
func (d *StandardDraft) Attachment() Attachment {
	if d.File == nil || d.File.Content == nil || (d.File.Filename == "" && d.File.Size == 0) {
		return NoFile{}
	}
	return FileToUpload{File: d.File}
}
