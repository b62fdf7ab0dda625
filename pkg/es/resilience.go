package es

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// BackendStatus is the taxonomy C12's classifier maps backend errors onto
// (spec.md §4.1 "Failure model", §4.11). HTTP-style codes are the
// conventional choice, but only the named constants below are interpreted.
type BackendStatus int

const (
	StatusOK BackendStatus = iota
	StatusConflict
	StatusThrottled
	StatusNotFound
	StatusFatal
	StatusTransient
)

// BackendErrorClassifier maps a raw backend error to a BackendStatus. The
// table is process-global and register-once, matching the closed-stream
// cache's concurrency model (spec.md §5 "Shared resources", §9 "Global
// mutable state").
type BackendErrorClassifier func(err error) BackendStatus

var (
	classifierMu sync.RWMutex
	classifier   BackendErrorClassifier = defaultClassifier
)

// RegisterBackendErrorClassifier installs the classifier used by retry
// policies built with NewRetryPolicy. Intended to be called once per
// backend at startup (e.g. by postgres.RegisterClassifier); idempotent thereafter.
func RegisterBackendErrorClassifier(fn BackendErrorClassifier) {
	classifierMu.Lock()
	defer classifierMu.Unlock()
	classifier = fn
}

func classify(err error) BackendStatus {
	classifierMu.RLock()
	defer classifierMu.RUnlock()
	return classifier(err)
}

// defaultClassifier recognizes this package's own typed errors; a backend
// package is expected to register one that additionally inspects its
// driver-specific error types (e.g. postgres.classify via pgconn.PgError).
func defaultClassifier(err error) BackendStatus {
	switch {
	case err == nil:
		return StatusOK
	case IsConcurrencyError(err):
		return StatusConflict
	case IsThrottledError(err):
		return StatusThrottled
	case IsNotFoundError(err):
		return StatusNotFound
	case IsContainerNotFoundError(err):
		return StatusFatal
	case IsTransientError(err):
		return StatusTransient
	default:
		return StatusFatal
	}
}

// RetryPolicy implements C12: classify, then retry with exponential backoff
// and jitter on Throttled/Transient, fail-fast on everything else, bounded by
// MaxAttempts (spec.md §4.11).
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff backoff.BackOff // nil uses a fresh exponential backoff per call
}

// NewRetryPolicy creates a policy bounded to maxAttempts, using
// cenkalti/backoff/v4's exponential backoff with jitter as its wait
// strategy (spec.md §4.11 "retry with exponential backoff + jitter").
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryPolicy{MaxAttempts: maxAttempts}
}

// Do runs op, retrying it while its error classifies as Throttled or
// Transient, up to MaxAttempts total tries. Conflict and every other
// classification are surfaced immediately without retry (spec.md §4.11
// "fail-fast for 4xx other than 412").
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := 0
	var lastErr error

	b := p.InitialBackoff
	if b == nil {
		eb := backoff.NewExponentialBackOff()
		b = eb
	}
	bounded := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		switch classify(lastErr) {
		case StatusThrottled, StatusTransient:
			return lastErr // retryable
		default:
			return backoff.Permanent(lastErr)
		}
	}, bounded)

	if err == nil {
		return nil
	}
	if attempts >= p.MaxAttempts {
		return &ExhaustedError{
			EventStoreError: EventStoreError{Op: "retry", Err: lastErr},
			Attempts:        attempts,
		}
	}
	return lastErr
}
