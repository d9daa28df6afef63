package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker rejected call %d: %v", i, err)
		}
		b.Record(false)
	}

	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)

	if b.State() != CircuitClosed {
		t.Errorf("success should reset the failure count, state = %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Second})
	b.nowFunc = func() time.Time { return now }

	b.Record(false)
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe allowed after reset timeout: %v", err)
	}

	// A failed probe reopens immediately.
	b.Record(false)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("failed probe should reopen the breaker, got %v", err)
	}

	// A successful probe closes.
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Record(true)
	if b.State() != CircuitClosed {
		t.Errorf("successful probe should close, got %s", b.State())
	}
}

func TestModelBreakers_PerModelIsolation(t *testing.T) {
	t.Parallel()

	mb := NewModelBreakers(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	mb.Get("flaky").Record(false)

	if mb.Get("flaky").State() != CircuitOpen {
		t.Error("flaky model breaker should be open")
	}
	if mb.Get("steady").State() != CircuitClosed {
		t.Error("other models must be unaffected")
	}
	if len(mb.States()) != 2 {
		t.Errorf("expected 2 tracked breakers, got %d", len(mb.States()))
	}
}

func TestDoVal_RetriesTransientOnly(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	val, err := DoVal(context.Background(), cfg, "m", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 529)
		}
		return "ok", nil
	})
	if err != nil || val != "ok" {
		t.Fatalf("expected success after retries, got %q, %v", val, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	calls = 0
	_, err = DoVal(context.Background(), cfg, "m", func(context.Context) (string, error) {
		calls++
		return "", errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-transient error must not retry, got %d attempts", calls)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(errors.New("x"), 503), true},
		{"rate limit text", errors.New("429 rate limit exceeded"), true},
		{"context canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"auth", errors.New("401 unauthorized"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
