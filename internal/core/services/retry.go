package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

// DefaultRetryBase is the first backoff delay for storage writes.
const DefaultRetryBase = 50 * time.Millisecond

// permanent reports storage errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrIncompatibleSchema) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryWrite runs fn up to retries+1 times, doubling the delay from base
// between attempts. Permanent errors are returned unchanged. When every
// attempt fails the last error is wrapped in domain.ErrStorageWriteFailure.
func retryWrite(ctx context.Context, retries int, base time.Duration, op string, fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	delay := base
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || permanent(err) {
			return err
		}
		if attempt >= retries {
			break
		}
		log.Debug("storage_write_retry",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", domain.ErrStorageWriteFailure, op, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrStorageWriteFailure, op, retries+1, err)
}
