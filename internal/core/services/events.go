package services

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-local/internal/core/ports/driving"
)

// Ensure EventBus implements the interfaces.
var (
	_ driven.EventPublisher = (*EventBus)(nil)
	_ driving.EventSource   = (*EventBus)(nil)
)

// DefaultProgressRate is the number of progress events per second let
// through for each progress stream.
const DefaultProgressRate = 10

// EventBus delivers pipeline events to subscribers.
//
// Publish never blocks: a subscriber whose buffer is full misses the
// event. Progress events are throttled per stream (event name plus
// correlation id and path); the final progress event of a stream, where
// processed reaches total, is always delivered.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit

	dropped atomic.Int64
}

// NewEventBus creates an event bus letting through perSecond progress
// events per stream. perSecond <= 0 uses DefaultProgressRate.
func NewEventBus(perSecond float64) *EventBus {
	if perSecond <= 0 {
		perSecond = DefaultProgressRate
	}
	return &EventBus{
		subs:     make(map[int]chan domain.Event),
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
	}
}

// Publish implements driven.EventPublisher.
func (b *EventBus) Publish(event domain.Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.Name.IsProgress() && !b.allowProgress(event) {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// allowProgress applies the per-stream rate limit.
func (b *EventBus) allowProgress(event domain.Event) bool {
	key := string(event.Name) + "|" + event.CorrelationID + "|" + event.Path

	b.limitMu.Lock()
	defer b.limitMu.Unlock()

	if event.Progress != nil && event.Progress.Done() {
		delete(b.limiters, key)
		return true
	}
	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.limit, 1)
		b.limiters[key] = l
	}
	return l.Allow()
}

// Subscribe implements driving.EventSource.
func (b *EventBus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
