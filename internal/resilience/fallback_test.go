package resilience

import (
	"errors"
	"testing"
	"time"
)

// fakeBackend is a minimal provider stand-in for group tests.
type fakeBackend struct {
	name  string
	err   error
	calls int
}

func (b *fakeBackend) do() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func TestFallbackGroup_PrimaryServesWhenHealthy(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary"}
	backup := &fakeBackend{name: "backup"}

	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("backup", backup)

	got, err := ExecuteWithResult(fg, func(b *fakeBackend) (string, error) { return b.do() })
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "primary" {
		t.Errorf("result = %q, want %q", got, "primary")
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestFallbackGroup_FailsOverInOrder(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", err: errProbe}
	second := &fakeBackend{name: "second", err: errProbe}
	third := &fakeBackend{name: "third"}

	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("second", second)
	fg.AddFallback("third", third)

	got, err := ExecuteWithResult(fg, func(b *fakeBackend) (string, error) { return b.do() })
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "third" {
		t.Errorf("result = %q, want %q", got, "third")
	}
	if primary.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, second.calls)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(&fakeBackend{name: "a", err: errProbe}, "a", FallbackConfig{})
	fg.AddFallback("b", &fakeBackend{name: "b", err: errProbe})

	_, err := ExecuteWithResult(fg, func(b *fakeBackend) (string, error) { return b.do() })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", err: errProbe}
	backup := &fakeBackend{name: "backup"}

	fg := NewFallbackGroup(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("backup", backup)

	exec := func() (string, error) {
		return ExecuteWithResult(fg, func(b *fakeBackend) (string, error) { return b.do() })
	}

	// First call trips the primary's breaker; later calls must not touch it.
	if _, err := exec(); err != nil {
		t.Fatalf("first call: %v", err)
	}
	for range 3 {
		if _, err := exec(); err != nil {
			t.Fatalf("subsequent call: %v", err)
		}
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1 (breaker open)", primary.calls)
	}
	if backup.calls != 4 {
		t.Errorf("backup called %d times, want 4", backup.calls)
	}
}

func TestFallbackGroup_TerminalErrorStopsChain(t *testing.T) {
	t.Parallel()

	terminal := errors.New("nothing was said")
	primary := &fakeBackend{name: "primary", err: terminal}
	backup := &fakeBackend{name: "backup"}

	fg := NewFallbackGroup(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Terminal:       func(err error) bool { return errors.Is(err, terminal) },
	})
	fg.AddFallback("backup", backup)

	// The terminal error is returned untouched and never reaches the backup.
	for range 3 {
		_, err := ExecuteWithResult(fg, func(b *fakeBackend) (string, error) { return b.do() })
		if !errors.Is(err, terminal) {
			t.Fatalf("error = %v, want terminal sentinel", err)
		}
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
	// Terminal errors also never trip the primary's breaker.
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want 3 (breaker untouched)", primary.calls)
	}
}

func TestFallbackGroup_Primary(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	if fg.Primary() != primary {
		t.Error("Primary returned a different backend")
	}
}
