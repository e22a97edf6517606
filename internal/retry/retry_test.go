package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLinear(t *testing.T) {
	b := Linear(10 * time.Millisecond)
	for i, want := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 90 * time.Millisecond} {
		retry := []int{1, 2, 9}[i]
		if got := b(retry); got != want {
			t.Errorf("Linear(10ms)(%d) = %v, ожидается %v", retry, got, want)
		}
	}
}

func TestPolicy_SucceedsOnAttemptK(t *testing.T) {
	for _, k := range []int{1, 3, 10} {
		calls := 0
		p := Policy{MaxAttempts: 10, Backoff: Linear(time.Microsecond)}

		err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
			calls++
			if attempt != calls {
				t.Errorf("attempt = %d, ожидается %d", attempt, calls)
			}
			if attempt < k {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("k=%d: неожиданная ошибка %v", k, err)
		}
		if calls != k {
			t.Errorf("k=%d: вызовов %d, после успеха попытки должны прекратиться", k, calls)
		}
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	last := errors.New("попытка 10")
	calls := 0
	var delays []time.Duration
	p := Policy{
		MaxAttempts: 10,
		Backoff:     Linear(time.Microsecond),
		OnRetry: func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		},
	}

	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt == 10 {
			return last
		}
		return errors.New("transient")
	})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("ожидалась ExhaustedError, получено %v", err)
	}
	if ex.Attempts != 10 || calls != 10 {
		t.Errorf("Attempts = %d, calls = %d, ожидается 10", ex.Attempts, calls)
	}
	if !errors.Is(err, last) {
		t.Error("ExhaustedError должна оборачивать ошибку последней попытки")
	}
	if len(delays) != 9 {
		t.Fatalf("задержек %d, ожидается 9", len(delays))
	}
	for i, d := range delays {
		if want := time.Duration(i+1) * time.Microsecond; d != want {
			t.Errorf("задержка перед повтором %d = %v, ожидается %v", i+1, d, want)
		}
	}
}

func TestPolicy_Permanent(t *testing.T) {
	stop := errors.New("неустранимая")
	calls := 0
	p := Policy{MaxAttempts: 5}

	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(stop)
	})
	if !errors.Is(err, stop) {
		t.Errorf("ожидалась исходная ошибка, получено %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("постоянная ошибка не должна превращаться в ExhaustedError")
	}
	if calls != 1 {
		t.Errorf("вызовов %d, ожидается 1", calls)
	}
}

func TestPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, Backoff: Linear(time.Hour)}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено %v", err)
	}
	if calls != 1 {
		t.Errorf("вызовов %d, ожидается 1", calls)
	}
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 || err == nil {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}
