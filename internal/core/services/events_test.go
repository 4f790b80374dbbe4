package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

func drain(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestEventBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewEventBus(0)
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(domain.Event{Name: domain.EventDocumentStarted, CorrelationID: "run-1"})

	gotA := drain(a)
	gotB := drain(b)
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "run-1", gotA[0].CorrelationID)
	assert.False(t, gotA[0].Time.IsZero())
}

func TestEventBus_ThrottlesProgress(t *testing.T) {
	bus := NewEventBus(0.001)
	ch, cancel := bus.Subscribe(100)
	defer cancel()

	for i := 1; i <= 10; i++ {
		bus.Publish(domain.Event{
			Name:          domain.EventEmbeddingProgress,
			CorrelationID: "doc-1",
			Progress:      &domain.Progress{Processed: i, Total: 10},
		})
	}

	got := drain(ch)
	require.Len(t, got, 2, "first event passes the limiter, the terminal one is forced through")
	assert.Equal(t, 1, got[0].Progress.Processed)
	assert.True(t, got[1].Progress.Done())
}

func TestEventBus_ThrottlesStreamsIndependently(t *testing.T) {
	bus := NewEventBus(0.001)
	ch, cancel := bus.Subscribe(100)
	defer cancel()

	for _, id := range []string{"doc-1", "doc-2", "doc-1", "doc-2"} {
		bus.Publish(domain.Event{
			Name:          domain.EventOCRProgress,
			CorrelationID: id,
			Progress:      &domain.Progress{Processed: 1, Total: 5},
		})
	}
	assert.Len(t, drain(ch), 2)
}

func TestEventBus_NonProgressNotThrottled(t *testing.T) {
	bus := NewEventBus(0.001)
	ch, cancel := bus.Subscribe(100)
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(domain.Event{Name: domain.EventIndexingError, CorrelationID: "run"})
	}
	assert.Len(t, drain(ch), 5)
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus(0)
	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(domain.Event{Name: domain.EventDocumentCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(9), bus.Dropped())
}

func TestEventBus_CancelClosesChannel(t *testing.T) {
	bus := NewEventBus(0)
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	bus.Publish(domain.Event{Name: domain.EventSearchStarted})
}
