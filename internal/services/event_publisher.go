package services

import (
	"context"
	"time"

	"postmesh/internal/domain/post"
	"postmesh/internal/events"
	"postmesh/pkg/logger"

	"go.uber.org/zap"
)

// EventPublisher emits post lifecycle events. A failed publish is logged and
// never fails the write that produced it.
type EventPublisher struct {
	publisher events.Publisher
	logger    *logger.Logger
}

func NewEventPublisher(publisher events.Publisher, l *logger.Logger) *EventPublisher {
	return &EventPublisher{publisher: publisher, logger: l}
}

func (p *EventPublisher) PublishPostCreated(ctx context.Context, created post.Post) {
	p.publish(ctx, events.RoutingKeyPostCreated, events.PostCreated{
		PostID:    created.ID.String(),
		UserID:    created.UserID,
		Content:   created.Content,
		CreatedAt: created.CreatedAt,
	})
}

func (p *EventPublisher) PublishPostDeleted(ctx context.Context, deleted post.Post) {
	mediaIDs := deleted.MediaIDs
	if mediaIDs == nil {
		mediaIDs = []string{}
	}
	p.publish(ctx, events.RoutingKeyPostDeleted, events.PostDeleted{
		PostID:   deleted.ID.String(),
		UserID:   deleted.UserID,
		MediaIDs: mediaIDs,
	})
}

func (p *EventPublisher) publish(ctx context.Context, routingKey string, payload any) {
	if p == nil || p.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.publisher.Publish(ctx, routingKey, payload); err != nil {
		p.logger.Error(ctx, "failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err))
	}
}
