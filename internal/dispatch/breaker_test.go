package dispatch

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerInitialState(t *testing.T) {
	b := NewBreaker("llm", DefaultBreakerConfig())
	if b.State() != StateClosed {
		t.Errorf("expected initial state Closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("expected Allow() true in Closed state")
	}
}

func TestBreakerTransitionToOpen(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 3
	b := NewBreaker("llm", cfg)

	for i := 0; i < 3; i++ {
		b.RecordFailureWithCategory(ErrorCategoryTransient)
	}
	if b.State() != StateOpen {
		t.Errorf("expected state Open after %d failures, got %s", cfg.FailureThreshold, b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() false in Open state")
	}
	if b.TotalTrips() != 1 {
		t.Errorf("expected 1 trip, got %d", b.TotalTrips())
	}
}

func TestBreakerRecordSuccessResetsFailures(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 3
	b := NewBreaker("llm", cfg)

	b.RecordFailureWithCategory(ErrorCategoryTransient)
	b.RecordFailureWithCategory(ErrorCategoryTransient)
	b.RecordSuccess()
	b.RecordFailureWithCategory(ErrorCategoryTransient)

	if b.State() != StateClosed {
		t.Errorf("expected breaker to remain Closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenAfterBackoff(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.InitialBackoff = 10 * time.Millisecond
	b := NewBreaker("dns", cfg)

	b.RecordFailureWithCategory(ErrorCategoryTransient)
	if b.State() != StateOpen {
		t.Fatalf("expected Open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Error("expected Allow() to admit a half-open probe after backoff elapses")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("expected HalfOpen, got %s", b.State())
	}
}

func TestBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 2
	cfg.InitialBackoff = 5 * time.Millisecond
	b := NewBreaker("dns", cfg)

	b.RecordFailureWithCategory(ErrorCategoryTransient)
	time.Sleep(10 * time.Millisecond)
	b.Allow()

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still HalfOpen after one success, got %s", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected Closed after success threshold met, got %s", b.State())
	}
}

func TestBreakerInvalidCategoryDoesNotTrip(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	b := NewBreaker("llm", cfg)

	for i := 0; i < 5; i++ {
		b.RecordFailureWithCategory(ErrorCategoryInvalid)
	}
	if b.State() != StateClosed {
		t.Errorf("expected invalid-request errors not to trip the breaker, got %s", b.State())
	}
}

func TestCategorizeError(t *testing.T) {
	cases := map[string]ErrorCategory{
		"429 too many requests": ErrorCategoryRateLimit,
		"400 bad request":       ErrorCategoryInvalid,
		"connection reset":      ErrorCategoryTransient,
	}
	for msg, want := range cases {
		got := CategorizeError(errors.New(msg))
		if got != want {
			t.Errorf("CategorizeError(%q) = %v, want %v", msg, got, want)
		}
	}
}
