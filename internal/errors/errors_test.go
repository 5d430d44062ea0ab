package errors

import (
	stderrors "errors"
	"syscall"
	"testing"
	"time"
)

func TestStructuredErrorsSatisfyIsBase(t *testing.T) {
	cases := []error{
		NewUniqueConstraint("email", "a@x.com"),
		NewDocumentNotFound("1"),
		NewConfigurationError("bad shape"),
	}
	for _, err := range cases {
		if !stderrors.Is(err, Base) {
			t.Fatalf("expected %v to satisfy errors.Is(_, Base)", err)
		}
	}
}

func TestClassifySentinelErrors(t *testing.T) {
	c := NewClassifier()
	if got := c.Classify(ErrCorruptRecord); got != ErrorValidation {
		t.Fatalf("expected ErrorValidation, got %v", got)
	}
	if got := c.Classify(ErrPayloadTooLarge); got != ErrorPermanent {
		t.Fatalf("expected ErrorPermanent, got %v", got)
	}
	if got := c.Classify(nil); got != ErrorPermanent {
		t.Fatalf("expected nil to classify as ErrorPermanent, got %v", got)
	}
}

func TestClassifyTransientSyscallErrors(t *testing.T) {
	c := NewClassifier()
	for _, errno := range []syscall.Errno{syscall.EAGAIN, syscall.EBUSY, syscall.EIO, syscall.EMFILE, syscall.ENOSPC} {
		if got := c.Classify(errno); got != ErrorTransient {
			t.Fatalf("expected %v to classify as transient, got %v", errno, got)
		}
	}
	for _, errno := range []syscall.Errno{syscall.ENOENT, syscall.EINVAL, syscall.EEXIST} {
		if got := c.Classify(errno); got != ErrorPermanent {
			t.Fatalf("expected %v to classify as permanent, got %v", errno, got)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	c := NewClassifier()
	if !c.ShouldRetry(ErrorTransient) {
		t.Fatal("expected transient errors to be retryable")
	}
	if !c.ShouldRetry(ErrorNetwork) {
		t.Fatal("expected network errors to be retryable")
	}
	if c.ShouldRetry(ErrorPermanent) {
		t.Fatal("expected permanent errors to not be retryable")
	}
	if c.ShouldRetry(ErrorValidation) {
		t.Fatal("expected validation errors to not be retryable")
	}
}

func TestRetryControllerSucceedsAfterTransientFailures(t *testing.T) {
	rc := NewRetryController()
	classifier := NewClassifier()

	attempts := 0
	err := rc.Retry(func() error {
		attempts++
		if attempts < 3 {
			return syscall.EBUSY
		}
		return nil
	}, classifier)

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryControllerDoesNotRetryPermanentErrors(t *testing.T) {
	rc := NewRetryController()
	classifier := NewClassifier()

	attempts := 0
	err := rc.Retry(func() error {
		attempts++
		return ErrPayloadTooLarge
	}, classifier)

	if err != ErrPayloadTooLarge {
		t.Fatalf("expected permanent error returned unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", attempts)
	}
}

func TestIsCritical(t *testing.T) {
	c := NewClassifier()
	if !c.IsCritical(ErrorCritical) {
		t.Fatal("expected ErrorCritical to be critical")
	}
	if c.IsCritical(ErrorTransient) || c.IsCritical(ErrorPermanent) {
		t.Fatal("expected non-critical categories to report false")
	}
}

func TestRetryControllerExhaustsMaxRetries(t *testing.T) {
	rc := &RetryController{initialDelay: time.Millisecond, maxDelay: 5 * time.Millisecond, maxRetries: 2}
	classifier := NewClassifier()

	attempts := 0
	err := rc.Retry(func() error {
		attempts++
		return syscall.EBUSY
	}, classifier)

	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected maxRetries+1 attempts, got %d", attempts)
	}
}
