package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	calls := 0
	wantErr := errors.New("always fails")
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls (1 + 3 retries), got %d", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

type explicitError struct {
	retryable bool
}

func (e *explicitError) Error() string     { return "explicit" }
func (e *explicitError) IsRetryable() bool { return e.retryable }

func TestIsRetryable_ExplicitInterface(t *testing.T) {
	if !IsRetryable(&explicitError{retryable: true}) {
		t.Error("expected retryable")
	}
	if IsRetryable(&explicitError{retryable: false}) {
		t.Error("expected not retryable")
	}
}

func TestIsRetryable_PatternMatching(t *testing.T) {
	retryable := []string{
		"dial tcp: connection refused",
		"read: connection reset by peer",
		"i/o timeout",
		"status 503 service unavailable",
		"deadlock detected",
		"rate limit exceeded",
	}
	for _, msg := range retryable {
		if !IsRetryable(errors.New(msg)) {
			t.Errorf("expected %q to be retryable", msg)
		}
	}

	permanent := []string{
		"syntax error at or near SELECT",
		"permission denied",
		"invalid input value",
	}
	for _, msg := range permanent {
		if IsRetryable(errors.New(msg)) {
			t.Errorf("expected %q to be permanent", msg)
		}
	}
}

func TestDoIfRetryable_PermanentFailsFast(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("syntax error in query")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestDoIfRetryable_RetriesTransient(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return &explicitError{retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoIfRetryable_EscalatesRepeatedErrorType(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 3

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("status 503 service unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected escalation after 3 same-type errors, got %d calls", calls)
	}
}
