package storage

import (
	"errors"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// WithRetry retries transient store failures with exponential backoff.
// Validation and not-found errors are surfaced immediately.
func WithRetry(op func() error) error {
	var err error
	wait := retryBaseWait

	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return err
		}
		time.Sleep(wait)
		wait *= 2
	}
	return err
}
