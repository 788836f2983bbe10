package events

import "context"

// Routing keys published on the shared topic exchange.
// These follow the format: aggregate:action
const (
	RoutingKeyPostCreated = "post:created"
	RoutingKeyPostDeleted = "post:deleted"
)

// Handler processes one delivered event. Returning nil acknowledges the
// delivery. Handlers must be idempotent: the broker may deliver an event more
// than once, and post:deleted may arrive before the matching post:created.
type Handler func(ctx context.Context, event DomainEvent) error

// Publisher emits a payload under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}
