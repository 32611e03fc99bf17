package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreakerClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("provider down")
		})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state after 3 failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("call must not run while the circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("timeout")
		})
	}
	if failures, _ := cb.Counters(); failures != 2 {
		t.Errorf("expected 2 failures, got %d", failures)
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })

	if failures, _ := cb.Counters(); failures != 0 {
		t.Errorf("expected streak reset after success, got %d", failures)
	}
}

func TestCircuitBreakerProbeClosesAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("503")
		})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})
	cb.nowFunc = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("503")
		})
	}

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("still down")
	})

	failures, state := cb.Counters()
	if state != CircuitOpen {
		t.Errorf("expected open after failed probe, got %s", state)
	}
	if failures != 3 {
		t.Errorf("expected 3 failures, got %d", failures)
	}
}

func TestCircuitBreakerOnStateChange(t *testing.T) {
	var transitions []struct{ from, to CircuitState }
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, struct{ from, to CircuitState }{from, to})
		},
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("down")
		})
	}

	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != CircuitClosed || transitions[0].to != CircuitOpen {
		t.Errorf("expected closed to open, got %s to %s", transitions[0].from, transitions[0].to)
	}
}

func TestCircuitBreakerShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// Data-quality failures never open the circuit.
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return NewDataError(errors.New("no match for domain"))
		})
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after data errors, got %s", cb.State())
	}

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return NewTransientError(errors.New("gateway timeout"), 504)
		})
	}
	if cb.State() != CircuitOpen {
		t.Errorf("expected open after transient errors, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("down")
		})
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 100,
		ResetTimeout:     time.Minute,
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(_ context.Context) error {
				if i%2 == 0 {
					return errors.New("flaky")
				}
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
