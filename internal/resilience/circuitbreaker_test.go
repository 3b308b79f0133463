package resilience_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Vaidehi1005/Daily-English-Speaking-Coach/internal/resilience"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newBreaker(clock *fakeClock) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		Now:          clock.Now,
	})
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	cb := newBreaker(newFakeClock())

	if err := cb.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("first call: got %v, want errBoom", err)
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("after one failure: state = %v, want closed", got)
	}
	_ = cb.Execute(fail)
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("after two failures: state = %v, want open", got)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("open breaker: got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("open breaker must not call fn")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := newBreaker(newFakeClock())

	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed (failures were not consecutive)", got)
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial func() error
		want  resilience.State
	}{
		{name: "success closes", trial: succeed, want: resilience.StateClosed},
		{name: "failure reopens", trial: fail, want: resilience.StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock()
			cb := newBreaker(clock)
			_ = cb.Execute(fail)
			_ = cb.Execute(fail)

			clock.Advance(10 * time.Second)
			if got := cb.State(); got != resilience.StateHalfOpen {
				t.Fatalf("after reset timeout: state = %v, want half-open", got)
			}
			_ = cb.Execute(tc.trial)
			if got := cb.State(); got != tc.want {
				t.Fatalf("after trial: state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCircuitBreaker_SingleTrial(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	cb := newBreaker(clock)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	clock.Advance(time.Minute)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	if err := cb.Execute(succeed); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("second call during trial: got %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := newBreaker(newFakeClock())
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	cb.Reset()
	if got := cb.State(); got != resilience.StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for state, want := range map[resilience.State]string{
		resilience.StateClosed:   "closed",
		resilience.StateOpen:     "open",
		resilience.StateHalfOpen: "half-open",
		resilience.State(42):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
