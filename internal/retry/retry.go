// Пакет retry — политика повторных попыток для операций с внешними
// хранилищами. Задержка между попытками задаётся функцией Backoff,
// выполнение цикла — через cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff возвращает задержку перед повторной попыткой с номером retry (1, 2, ...).
type Backoff func(retry int) time.Duration

// Linear — задержка step*retry: 10ms, 20ms, 30ms ...
func Linear(step time.Duration) Backoff {
	return func(retry int) time.Duration {
		return step * time.Duration(retry)
	}
}

// Policy — ограниченное число попыток с задержкой Backoff.
type Policy struct {
	// Максимум попыток, включая первую
	MaxAttempts int
	Backoff     Backoff
	// OnRetry вызывается перед каждой повторной попыткой (опционально)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExhaustedError — все попытки неуспешны. Err — ошибка последней попытки.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("исчерпаны попытки (%d): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent помечает ошибку как не подлежащую повтору.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do выполняет op до успеха, исчерпания попыток или отмены ctx.
// Отмена контекста возвращается как есть, без ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := p.Backoff
	if delay == nil {
		delay = func(int) time.Duration { return 0 }
	}

	fb := &funcBackOff{delay: delay}
	b := backoff.WithContext(backoff.WithMaxRetries(fb, uint64(maxAttempts-1)), ctx)

	attempt := 0
	permanent := false
	var lastErr error
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := op(ctx, attempt)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			lastErr = perm.Err
			return err
		}
		lastErr = err
		return err
	}
	notify := func(err error, d time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, d)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if permanent {
		return lastErr
	}
	return &ExhaustedError{Attempts: attempt, Err: lastErr}
}

// funcBackOff адаптирует Backoff к интерфейсу backoff.BackOff.
type funcBackOff struct {
	delay Backoff
	retry int
}

func (f *funcBackOff) NextBackOff() time.Duration {
	f.retry++
	return f.delay(f.retry)
}

func (f *funcBackOff) Reset() {
	f.retry = 0
}
