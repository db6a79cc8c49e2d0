package resilience

import (
	"errors"
	"testing"
	"time"
)

var errProbe = errors.New("probe failure")

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errProbe }, nil)
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	err := cb.Execute(func() error {
		t.Error("fn must not be called while open")
		return nil
	}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	if err := cb.Execute(func() error { return nil }, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	failN(cb, 2)

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (count reset by success)", got)
	}
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  2,
	})

	failN(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", got)
	}

	// Two successful probes close the breaker.
	for range 2 {
		if err := cb.Execute(func() error { return nil }, nil); err != nil {
			t.Fatalf("probe Execute: %v", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
	})

	failN(cb, 1)
	time.Sleep(30 * time.Millisecond)

	failN(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", got)
	}
}

func TestCircuitBreaker_ClassifierExemptsExpectedErrors(t *testing.T) {
	t.Parallel()

	expected := errors.New("nothing was said")
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})

	classify := func(err error) bool { return !errors.Is(err, expected) }

	// Expected errors pass through but never trip the breaker.
	for range 5 {
		if err := cb.Execute(func() error { return expected }, classify); !errors.Is(err, expected) {
			t.Fatalf("error = %v, want the expected sentinel", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (expected errors exempt)", got)
	}

	// A real failure still trips it.
	_ = cb.Execute(func() error { return errProbe }, classify)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after real failure", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1})
	failN(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
