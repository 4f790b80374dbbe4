package ocr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func TestQueue_SerialFIFO(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	var mu sync.Mutex
	var order []int
	var ids []string
	for i := 0; i < 5; i++ {
		i := i
		id, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return &domain.OCRResult{}, nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := q.Wait(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_Status(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	id, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) {
		close(started)
		<-release
		return nil, errors.New("unreadable")
	})
	require.NoError(t, err)

	<-started
	status, ok := q.Status(id)
	require.True(t, ok)
	assert.Equal(t, domain.OCRJobRunning, status)

	close(release)
	_, err = q.Wait(context.Background(), id)
	assert.EqualError(t, err, "unreadable")

	_, ok = q.Status(id)
	assert.False(t, ok)
}

func TestQueue_CancelledBeforeStart(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	block := make(chan struct{})
	_, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	id, err := q.Submit(ctx, func(context.Context) (*domain.OCRResult, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, err)
	cancel()
	close(block)

	_, err = q.Wait(context.Background(), id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestQueue_WaitUnknown(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	_, err := q.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue(2)
	q.Close()

	_, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_WaitHonoursContext(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	defer close(release)
	id, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_SubmitWhileClosing(t *testing.T) {
	q := NewQueue(1)

	release := make(chan struct{})
	block := func(context.Context) (*domain.OCRResult, error) {
		<-release
		return &domain.OCRResult{}, nil
	}
	for i := 0; i < 300; i++ {
		_, err := q.Submit(context.Background(), block)
		require.NoError(t, err)
	}

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), block)
			if err != nil {
				assert.ErrorIs(t, err, ErrQueueClosed)
			}
		}()
	}
	wg.Wait()
	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the jobs were released")
	}
	_, err := q.Submit(context.Background(), block)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_WaitCancelledForgetsJob(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	finished := make(chan struct{})
	id, err := q.Submit(context.Background(), func(context.Context) (*domain.OCRResult, error) {
		defer close(finished)
		<-release
		return &domain.OCRResult{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Wait(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := q.Status(id)
	assert.False(t, ok)

	close(release)
	<-finished
	// Let the job report its outcome.
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.active == 0
	}, time.Second, 5*time.Millisecond)

	_, ok = q.Status(id)
	assert.False(t, ok, "a finished job nobody waits for is not tracked")
	_, err = q.Wait(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	q := NewQueue(2)
	defer q.Close()

	var mu sync.Mutex
	running, peak := 0, 0
	job := func(context.Context) (*domain.OCRResult, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return &domain.OCRResult{}, nil
	}

	var ids []string
	for i := 0; i < 8; i++ {
		id, err := q.Submit(context.Background(), job)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := q.Wait(context.Background(), id)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak, 2)
}
