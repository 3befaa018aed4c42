package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicySucceedsAfterTransientFailure(t *testing.T) {
	p := NewRetryPolicy(2, time.Millisecond)
	attempts := 0
	err := p.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	p := NewRetryPolicy(1, time.Millisecond)
	want := errors.New("persistent")
	attempts := 0
	err := p.Do(func() error {
		attempts++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last error returned, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryPolicyZeroRetriesRunsOnce(t *testing.T) {
	p := NewRetryPolicy(0, time.Millisecond)
	attempts := 0
	_ = p.Do(func() error {
		attempts++
		return errors.New("boom")
	})
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestNewRetryPolicyClampsNegative(t *testing.T) {
	p := NewRetryPolicy(-3, 0)
	if p.MaxRetries != 0 {
		t.Fatalf("expected negative retries clamped to 0, got %d", p.MaxRetries)
	}
	if p.Backoff <= 0 {
		t.Fatalf("expected positive default backoff, got %v", p.Backoff)
	}
}
