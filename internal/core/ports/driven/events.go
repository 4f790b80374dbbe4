package driven

import "github.com/custodia-labs/sercha-local/internal/core/domain"

// EventPublisher receives pipeline events. Publish must not block.
type EventPublisher interface {
	Publish(event domain.Event)
}
