package es

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want BackendStatus
	}{
		{"nil", nil, StatusOK},
		{"concurrency", &ConcurrencyError{EventStoreError: EventStoreError{Op: "x"}}, StatusConflict},
		{"throttled", &ThrottledError{EventStoreError: EventStoreError{Op: "x"}}, StatusThrottled},
		{"notFound", &NotFoundError{EventStoreError: EventStoreError{Op: "x"}}, StatusNotFound},
		{"containerNotFound", &ContainerNotFoundError{EventStoreError: EventStoreError{Op: "x"}}, StatusFatal},
		{"transient", &TransientError{EventStoreError: EventStoreError{Op: "x"}}, StatusTransient},
		{"unknown", errors.New("boom"), StatusFatal},
	}
	for _, c := range cases {
		if got := defaultClassifier(c.err); got != c.want {
			t.Errorf("%s: defaultClassifier = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRetryPolicySucceedsWithoutRetry(t *testing.T) {
	p := NewRetryPolicy(3)
	p.InitialBackoff = &backoff.ZeroBackOff{}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call on immediate success, got %d", calls)
	}
}

func TestRetryPolicyRetriesTransientThenSucceeds(t *testing.T) {
	p := NewRetryPolicy(5)
	p.InitialBackoff = &backoff.ZeroBackOff{}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{EventStoreError: EventStoreError{Op: "x"}}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls before success, got %d", calls)
	}
}

func TestRetryPolicyFailsFastOnConflict(t *testing.T) {
	p := NewRetryPolicy(5)
	p.InitialBackoff = &backoff.ZeroBackOff{}

	calls := 0
	conflict := &ConcurrencyError{EventStoreError: EventStoreError{Op: "x"}}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return conflict
	})
	if !errors.Is(err, conflict) {
		t.Fatalf("expected the conflict error to surface unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a non-retryable classification should not retry, got %d calls", calls)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	p := NewRetryPolicy(3)
	p.InitialBackoff = &backoff.ZeroBackOff{}

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &TransientError{EventStoreError: EventStoreError{Op: "x"}}
	})
	if !IsExhaustedError(err) {
		t.Fatalf("expected ExhaustedError once attempts run out, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
}

func TestRegisterBackendErrorClassifier(t *testing.T) {
	custom := errors.New("custom backend error")
	RegisterBackendErrorClassifier(func(err error) BackendStatus {
		if errors.Is(err, custom) {
			return StatusThrottled
		}
		return defaultClassifier(err)
	})
	t.Cleanup(func() { RegisterBackendErrorClassifier(defaultClassifier) })

	if classify(custom) != StatusThrottled {
		t.Error("classify should use the registered classifier")
	}
	if classify(errors.New("anything else")) != StatusFatal {
		t.Error("the registered classifier should fall back to defaultClassifier for unrecognized errors")
	}
}

func TestRetryPolicyRespectsContextCancellation(t *testing.T) {
	p := NewRetryPolicy(10)
	p.InitialBackoff = &backoff.ZeroBackOff{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(ctx context.Context) error {
		return &TransientError{EventStoreError: EventStoreError{Op: "x"}}
	})
	if err == nil {
		t.Fatal("Do should return an error once the context is done")
	}
}
