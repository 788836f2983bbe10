package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"postmesh/internal/metrics"
	"postmesh/pkg/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher emits JSON events on the shared exchange. It does not wait for
// broker confirms, and messages are transient: an event that is in flight when
// the broker restarts is lost.
type Publisher struct {
	channels ChannelProvider
	logger   *logger.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

func NewPublisher(channels ChannelProvider, l *logger.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		channels: channels,
		logger:   l,
		metrics:  m,
		clock:    time.Now,
	}
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.metrics.Published(routingKey, "error")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ch, err := p.channels.EnsureChannel(ctx)
	if err != nil {
		p.metrics.Published(routingKey, "error")
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    p.clock().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.channels.Exchange(), routingKey, false, false, msg); err != nil {
		p.metrics.Published(routingKey, "error")
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.metrics.Published(routingKey, "ok")
	p.logger.Info(ctx, "event published",
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.MessageId))
	return nil
}
