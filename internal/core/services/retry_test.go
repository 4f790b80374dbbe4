package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestRetryWrite(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		retries   int
		wantCalls int
		wantErr   error
	}{
		{name: "first attempt succeeds", failures: 0, err: errFlaky, retries: 3, wantCalls: 1},
		{name: "recovers after transient failures", failures: 2, err: errFlaky, retries: 3, wantCalls: 3},
		{name: "gives up after retries", failures: 10, err: errFlaky, retries: 2, wantCalls: 3, wantErr: domain.ErrStorageWriteFailure},
		{name: "permanent error is not retried", failures: 10, err: domain.ErrNotFound, retries: 3, wantCalls: 1, wantErr: domain.ErrNotFound},
		{name: "negative retries means one attempt", failures: 10, err: errFlaky, retries: -1, wantCalls: 1, wantErr: domain.ErrStorageWriteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWrite(context.Background(), tt.retries, 0, "test", func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetryWrite_FailureIsRetryable(t *testing.T) {
	err := retryWrite(context.Background(), 1, 0, "test", func() error { return errFlaky })
	assert.True(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRetryWrite_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryWrite(ctx, 5, time.Hour, "test", func() error {
		calls++
		cancel()
		return errFlaky
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrStorageWriteFailure)
	assert.ErrorIs(t, err, context.Canceled)
}
