// Пакет blobstore — загрузка вложений нормативов в объектное хранилище.
//
// Uploader сохраняет файл во временный файл, загружает его в хранилище
// с ограниченным числом повторов и возвращает подписанную ссылку.
// Временный файл удаляется при любом исходе.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marcelo-marini/sigo-web-app/internal/domain/errs"
	"github.com/marcelo-marini/sigo-web-app/internal/domain/model"
	"github.com/marcelo-marini/sigo-web-app/internal/retry"
)

// Значения по умолчанию политики загрузки.
const (
	DefaultMaxAttempts  = 10
	DefaultBackoffStep  = 10 * time.Millisecond
	DefaultSignedURLTTL = 365 * 24 * time.Hour
	defaultContentType  = "application/octet-stream"
)

var (
	uploadAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigo_blob_upload_attempts_total",
		Help: "Попытки загрузки объекта в хранилище.",
	}, []string{"backend", "result"})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigo_blob_uploads_total",
		Help: "Итог загрузки вложения (после всех попыток).",
	}, []string{"backend", "result"})

	uploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sigo_blob_upload_duration_seconds",
		Help:    "Длительность загрузки вложения, включая повторы.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend"})
)

// ObjectProperties — HTTP-свойства загружаемого объекта.
type ObjectProperties struct {
	ContentType        string
	ContentDisposition string
}

// Store — объектное хранилище.
// Put может вызываться повторно для того же файла; реализация читает
// файл через ReadAt и не зависит от текущей позиции.
type Store interface {
	// Backend — короткое имя для логов и метрик (azure, s3).
	Backend() string
	Put(ctx context.Context, name string, file *os.File, size int64, props ObjectProperties) error
	// SignedURL возвращает полностью квалифицированную ссылку на объект,
	// подписанную на ttl.
	SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

// Options — параметры Uploader.
type Options struct {
	MaxAttempts int
	// Backoff — задержка перед повтором; nil — линейная с шагом BackoffStep.
	Backoff      retry.Backoff
	BackoffStep  time.Duration
	SignedURLTTL time.Duration
	// TempDir — каталог временных файлов; пусто — os.TempDir().
	TempDir string
}

// Uploader загружает вложения в Store.
type Uploader struct {
	store  Store
	policy retry.Policy
	ttl    time.Duration
	tmpDir string
	logger *slog.Logger
}

// NewUploader создаёт Uploader. Нулевые поля Options заменяются значениями по умолчанию.
func NewUploader(store Store, opts Options, logger *slog.Logger) *Uploader {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = DefaultBackoffStep
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Linear(opts.BackoffStep)
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = DefaultSignedURLTTL
	}

	u := &Uploader{
		store:  store,
		ttl:    opts.SignedURLTTL,
		tmpDir: opts.TempDir,
		logger: logger.With(slog.String("component", "blob_uploader"), slog.String("backend", store.Backend())),
	}
	u.policy = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			u.logger.Warn("Загрузка объекта не удалась, повтор",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}
	return u
}

// Upload загружает файл под именем, производным от code, и возвращает
// подписанную ссылку. Исчерпание попыток — *errs.StorageError.
func (u *Uploader) Upload(ctx context.Context, file *model.FileUpload, code string) (string, error) {
	start := time.Now()
	backend := u.store.Backend()
	defer func() {
		uploadDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}()

	name := ObjectName(code, file.Ext())

	url, err := u.upload(ctx, file, name)
	if err != nil {
		uploadsTotal.WithLabelValues(backend, "error").Inc()
		u.logger.Error("Загрузка вложения не удалась",
			slog.String("object", name),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	uploadsTotal.WithLabelValues(backend, "success").Inc()
	u.logger.Info("Вложение загружено",
		slog.String("object", name),
		slog.Duration("duration", time.Since(start)),
	)
	return url, nil
}

func (u *Uploader) upload(ctx context.Context, file *model.FileUpload, name string) (string, error) {
	tmp, err := os.CreateTemp(u.tmpDir, "sigo_*"+sanitize(file.Ext()))
	if err != nil {
		return "", &errs.StorageError{Object: name, Err: fmt.Errorf("создание временного файла: %w", err)}
	}
	defer u.removeTemp(tmp)

	size, err := io.Copy(tmp, file.Content)
	if err != nil {
		return "", &errs.StorageError{Object: name, Err: fmt.Errorf("запись временного файла: %w", err)}
	}

	props := ObjectProperties{
		ContentType:        file.ContentType,
		ContentDisposition: "inline; filename=" + name,
	}
	if props.ContentType == "" {
		props.ContentType = defaultContentType
	}

	attempts := 0
	err = u.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		putErr := u.store.Put(ctx, name, tmp, size, props)
		if putErr != nil {
			uploadAttemptsTotal.WithLabelValues(u.store.Backend(), "error").Inc()
			return putErr
		}
		uploadAttemptsTotal.WithLabelValues(u.store.Backend(), "success").Inc()
		return nil
	})
	if err != nil {
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			return "", &errs.StorageError{Object: name, Attempts: ex.Attempts, Err: ex.Err}
		}
		return "", &errs.StorageError{Object: name, Attempts: attempts, Err: err}
	}

	url, err := u.store.SignedURL(ctx, name, u.ttl)
	if err != nil {
		return "", &errs.StorageError{Object: name, Attempts: attempts, Err: fmt.Errorf("подпись ссылки: %w", err)}
	}
	return url, nil
}

// removeTemp закрывает и удаляет временный файл.
func (u *Uploader) removeTemp(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.logger.Warn("Не удалось удалить временный файл",
			slog.String("path", f.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// ObjectName формирует имя объекта sigo_<code>_<random><ext>.
// Символы code и ext вне [A-Za-z0-9._-] заменяются на '-'.
func ObjectName(code, ext string) string {
	safe := sanitize(strings.TrimSpace(code))
	if safe == "" {
		safe = "standard"
	}
	return "sigo_" + safe + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + sanitize(ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
