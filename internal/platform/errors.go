package platform

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationFailed means the platform rejected the purchase. Terminal.
	ErrVerificationFailed = errors.New("verification failed")
	// ErrVerificationUnavailable means the platform could not be reached or
	// answered with a transient failure. Retryable.
	ErrVerificationUnavailable = errors.New("verification unavailable")
	// ErrDecode means the payload was structurally invalid.
	ErrDecode = errors.New("malformed platform payload")
)

// StatusError carries the platform status code that caused a verification error.
type StatusError struct {
	Platform string
	Status   int
	Err      error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s verification status %d: %v", e.Platform, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVerificationUnavailable)
}
