package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetry_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(3), "test", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 1 {
		t.Errorf("got %d after %d calls, want 42 after 1", got, calls)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastRetry(3), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("overloaded"), 529)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(3), "test", func(context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("rate limited"), 429)
	})
	if err == nil {
		t.Fatal("expected error after exhausting budget")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorNoRetry(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry(5), "test", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not retry, got %d calls", calls)
	}
}

func TestRetry_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, RetryConfig{MaxAttempts: 5, InitialBackoff: 50 * time.Millisecond}, "test", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient(errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancellation, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if !IsTransient(Transient(errors.New("x"), 503)) {
		t.Error("TransientError should be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	if !IsTransient(errors.New("api rate limit exceeded")) {
		t.Error("rate limit message should be transient")
	}
	if IsTransient(errors.New("malformed response body")) {
		t.Error("malformed response is permanent")
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !RetryableStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if RetryableStatus(code) {
			t.Errorf("status %d should not be retryable", code)
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("call %d rejected while closed: %v", i, err)
		}
		b.Record(Transient(errors.New("boom"), 503))
	}
	if !b.Open() {
		t.Fatal("breaker should be open after threshold failures")
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Record(Transient(errors.New("boom"), 503))
	b.Record(Transient(errors.New("boom"), 503))
	b.Record(nil) // success clears the streak
	b.Record(Transient(errors.New("boom"), 503))
	if b.Open() {
		t.Error("breaker should still be closed")
	}
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	for i := 0; i < 5; i++ {
		b.Record(errors.New("bad request"))
	}
	if b.Open() {
		t.Error("permanent errors must not trip the breaker")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Second)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Record(Transient(errors.New("boom"), 503))
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected open circuit")
	}

	// After the reset window a probe is admitted.
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe to be admitted: %v", err)
	}

	// A successful probe closes the circuit.
	b.Record(nil)
	if b.Open() {
		t.Error("breaker should close after successful probe")
	}
}
