package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore — Store в памяти. failFirst первых Put завершаются ошибкой.
type fakeStore struct {
	mu        sync.Mutex
	failFirst int
	signErr   error
	puts      int
	tempPaths []string
	content   map[string]string
	props     map[string]ObjectProperties
	signedTTL time.Duration
}

func newFakeStore(failFirst int) *fakeStore {
	return &fakeStore{
		failFirst: failFirst,
		content:   make(map[string]string),
		props:     make(map[string]ObjectProperties),
	}
}

func (f *fakeStore) Backend() string { return "fake" }

func (f *fakeStore) Put(_ context.Context, name string, file *os.File, size int64, props ObjectProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.tempPaths = append(f.tempPaths, file.Name())
	if f.puts <= f.failFirst {
		return fmt.Errorf("временный сбой %d", f.puts)
	}
	data, err := io.ReadAll(io.NewSectionReader(file, 0, size))
	if err != nil {
		return err
	}
	f.content[name] = string(data)
	f.props[name] = props
	return nil
}

func (f *fakeStore) SignedURL(_ context.Context, name string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	f.signedTTL = ttl
	return "https://blob.sigo.local/sigo/" + name + "?sig=abc", nil
}

func newTestUploader(store Store, dir string) *Uploader {
	return NewUploader(store, Options{
		MaxAttempts: 10,
		BackoffStep: time.Microsecond,
		TempDir:     dir,
	}, testLogger())
}

func pdf(content string) *model.FileUpload {
	return &model.FileUpload{
		Filename:    "ISO-9001.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		Content:     strings.NewReader(content),
	}
}

// assertTempDirEmpty проверяет, что временные файлы удалены.
func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("во временном каталоге остались файлы: %v", entries)
	}
}

func TestUpload_Success(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(0)
	u := newTestUploader(store, dir)

	url, err := u.Upload(context.Background(), pdf("%PDF-1.7"), "Q9001")
	if err != nil {
		t.Fatalf("Upload() вернул ошибку: %v", err)
	}

	if store.puts != 1 {
		t.Errorf("Put вызван %d раз, ожидается 1", store.puts)
	}
	if !strings.HasPrefix(url, "https://blob.sigo.local/sigo/sigo_Q9001_") || !strings.HasSuffix(url, ".pdf?sig=abc") {
		t.Errorf("url = %q", url)
	}
	if store.signedTTL != DefaultSignedURLTTL {
		t.Errorf("срок подписи = %v, ожидается один год", store.signedTTL)
	}

	for name, content := range store.content {
		if content != "%PDF-1.7" {
			t.Errorf("содержимое %q = %q", name, content)
		}
		props := store.props[name]
		if props.ContentType != "application/pdf" {
			t.Errorf("ContentType = %q", props.ContentType)
		}
		if props.ContentDisposition != "inline; filename="+name {
			t.Errorf("ContentDisposition = %q", props.ContentDisposition)
		}
	}

	// Временный файл создан в заданном каталоге с префиксом sigo_ и исходным расширением
	tmp := store.tempPaths[0]
	if !strings.HasPrefix(tmp, dir) || !regexp.MustCompile(`sigo_\d+\.pdf$`).MatchString(tmp) {
		t.Errorf("временный файл = %q", tmp)
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_SucceedsOnAttemptK(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(3)
	u := newTestUploader(store, dir)

	if _, err := u.Upload(context.Background(), pdf("data"), "Q9001"); err != nil {
		t.Fatalf("Upload() вернул ошибку: %v", err)
	}
	if store.puts != 4 {
		t.Errorf("Put вызван %d раз, ожидается 4", store.puts)
	}
	for name, content := range store.content {
		if content != "data" {
			t.Errorf("при повторе содержимое %q = %q, файл должен читаться с начала", name, content)
		}
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_Exhausted(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(100)
	u := newTestUploader(store, dir)

	_, err := u.Upload(context.Background(), pdf("data"), "Q9001")
	if !errors.Is(err, errs.ErrStorage) {
		t.Fatalf("ожидалась ErrStorage, получено %v", err)
	}

	var se *errs.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("ожидалась *StorageError, получено %T", err)
	}
	if se.Attempts != 10 || store.puts != 10 {
		t.Errorf("Attempts = %d, puts = %d, ожидается 10", se.Attempts, store.puts)
	}
	if !strings.Contains(se.Err.Error(), "временный сбой 10") {
		t.Errorf("ожидалась ошибка последней попытки, получено %v", se.Err)
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_SignFailure(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(0)
	store.signErr = errors.New("нет ключа")
	u := newTestUploader(store, dir)

	_, err := u.Upload(context.Background(), pdf("data"), "Q9001")
	if !errors.Is(err, errs.ErrStorage) {
		t.Errorf("ожидалась ErrStorage, получено %v", err)
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(100)
	u := NewUploader(store, Options{MaxAttempts: 10, BackoffStep: time.Hour, TempDir: dir}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := u.Upload(ctx, pdf("data"), "Q9001")
	if !errors.Is(err, errs.ErrStorage) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидалась StorageError с DeadlineExceeded, получено %v", err)
	}
	if store.puts != 1 {
		t.Errorf("puts = %d, ожидается 1", store.puts)
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_UnreadableContent(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore(0)
	u := newTestUploader(store, dir)

	file := pdf("")
	file.Content = io.MultiReader(strings.NewReader("abc"), errReader{})

	_, err := u.Upload(context.Background(), file, "Q9001")
	var se *errs.StorageError
	if !errors.As(err, &se) || se.Attempts != 0 {
		t.Errorf("ожидалась StorageError без попыток, получено %v", err)
	}
	if store.puts != 0 {
		t.Errorf("Put не должен вызываться, puts = %d", store.puts)
	}
	assertTempDirEmpty(t, dir)
}

func TestUpload_DefaultContentType(t *testing.T) {
	store := newFakeStore(0)
	u := newTestUploader(store, t.TempDir())

	file := pdf("x")
	file.ContentType = ""
	if _, err := u.Upload(context.Background(), file, "Q9001"); err != nil {
		t.Fatal(err)
	}
	for _, props := range store.props {
		if props.ContentType != "application/octet-stream" {
			t.Errorf("ContentType = %q", props.ContentType)
		}
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		ext    string
		prefix string
		suffix string
	}{
		{"обычный код", "Q9001", ".pdf", "sigo_Q9001_", ".pdf"},
		{"пробелы и слэш в коде", "ISO 9001/2015", ".pdf", "sigo_ISO-9001-2015_", ".pdf"},
		{"пустой код", "  ", ".pdf", "sigo_standard_", ".pdf"},
		{"пробел в расширении", "Q9001", ".p df", "sigo_Q9001_", ".p-df"},
		{"точка с запятой в расширении", "Q9001", ".pdf;rm", "sigo_Q9001_", ".pdf-rm"},
		{"не-ASCII в расширении", "Q9001", ".pdé", "sigo_Q9001_", ".pd-"},
		{"без расширения", "Q9001", "", "sigo_Q9001_", ""},
	}
	allowed := regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := ObjectName(tt.code, tt.ext)
			if !strings.HasPrefix(name, tt.prefix) || !strings.HasSuffix(name, tt.suffix) {
				t.Errorf("ObjectName(%q, %q) = %q", tt.code, tt.ext, name)
			}
			if !allowed.MatchString(name) {
				t.Errorf("недопустимые символы в %q", name)
			}
		})
	}
	if ObjectName("Q9001", ".pdf") == ObjectName("Q9001", ".pdf") {
		t.Error("имена объектов должны быть уникальными")
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("обрыв соединения")
}
