package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"postmesh/internal/events"
	"postmesh/internal/metrics"
	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type SubscriberConfig struct {
	// Concurrency caps in-flight handler calls per subscription.
	Concurrency int
	// RequeueOnError nacks failed deliveries with requeue. When false they stay
	// unacknowledged until the channel closes and the broker requeues them.
	RequeueOnError bool
	// RetryMin and RetryMax bound the backoff used to re-subscribe after the
	// delivery stream is lost.
	RetryMin time.Duration
	RetryMax time.Duration
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Concurrency: 8,
		RetryMin:    500 * time.Millisecond,
		RetryMax:    30 * time.Second,
	}
}

// Subscriber binds one exclusive, auto-named queue per routing key and feeds
// deliveries to handlers. Every Subscriber process gets its own copy of each
// matching event.
type Subscriber struct {
	channels ChannelProvider
	cfg      SubscriberConfig
	logger   *logger.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    []*subscription
	loops   sync.WaitGroup
	stopped bool
}

type subscription struct {
	routingKey string
	handler    events.Handler
	sem        chan struct{}
	inflight   sync.WaitGroup

	mu         sync.Mutex
	channel    Channel
	tag        string
	deliveries <-chan amqp.Delivery
}

func NewSubscriber(channels ChannelProvider, cfg SubscriberConfig, l *logger.Logger, m *metrics.Metrics) *Subscriber {
	defaults := DefaultSubscriberConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = defaults.RetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = defaults.RetryMax
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		channels: channels,
		cfg:      cfg,
		logger:   l,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe declares and binds a queue for routingKey and starts consuming in
// the background. The first attach happens before Subscribe returns, so an
// unreachable broker is reported to the caller.
func (s *Subscriber) Subscribe(ctx context.Context, routingKey string, handler events.Handler) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: subscriber stopped", postmesh_errors.ErrBrokerUnavailable)
	}
	s.mu.Unlock()

	sub := &subscription{
		routingKey: routingKey,
		handler:    handler,
		sem:        make(chan struct{}, s.cfg.Concurrency),
	}
	if err := s.attach(ctx, sub); err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.cancelConsumer(sub)
		return fmt.Errorf("%w: subscriber stopped", postmesh_errors.ErrBrokerUnavailable)
	}
	s.subs = append(s.subs, sub)
	s.loops.Add(1)
	s.mu.Unlock()

	go s.run(sub)
	s.logger.Info(ctx, "subscribed to event", zap.String("routing_key", routingKey))
	return nil
}

func (s *Subscriber) attach(ctx context.Context, sub *subscription) error {
	ch, err := s.channels.EnsureChannel(ctx)
	if err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue for %s: %w", sub.routingKey, err)
	}
	if err := ch.QueueBind(q.Name, sub.routingKey, s.channels.Exchange(), false, nil); err != nil {
		return fmt.Errorf("failed to bind queue for %s: %w", sub.routingKey, err)
	}
	tag := fmt.Sprintf("%s-%s", sub.routingKey, uuid.NewString())
	deliveries, err := ch.Consume(q.Name, tag, false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", sub.routingKey, err)
	}

	sub.mu.Lock()
	sub.channel = ch
	sub.tag = tag
	sub.deliveries = deliveries
	sub.mu.Unlock()
	return nil
}

func (s *Subscriber) run(sub *subscription) {
	defer s.loops.Done()
	for {
		sub.mu.Lock()
		deliveries := sub.deliveries
		sub.mu.Unlock()

		s.consume(sub, deliveries)
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn(s.ctx, "delivery stream closed, re-subscribing", zap.String("routing_key", sub.routingKey))
		if !s.reattach(sub) {
			return
		}
	}
}

// consume dispatches deliveries until the stream closes or Stop is called.
func (s *Subscriber) consume(sub *subscription, deliveries <-chan amqp.Delivery) {
	// Handlers run on a context that Stop does not cancel so in-flight work
	// can finish.
	handlerCtx := context.WithoutCancel(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			select {
			case sub.sem <- struct{}{}:
			case <-s.ctx.Done():
				return
			}
			sub.inflight.Add(1)
			go func(d amqp.Delivery) {
				defer func() {
					<-sub.sem
					sub.inflight.Done()
				}()
				s.handle(handlerCtx, sub, d)
			}(d)
		}
	}
}

func (s *Subscriber) reattach(sub *subscription) bool {
	backoff := s.cfg.RetryMin
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(backoff):
		}
		err := s.attach(s.ctx, sub)
		if err == nil {
			s.logger.Info(s.ctx, "re-subscribed to event", zap.String("routing_key", sub.routingKey))
			return true
		}
		s.logger.Warn(s.ctx, "re-subscribe failed",
			zap.String("routing_key", sub.routingKey),
			zap.Duration("retry_in", backoff),
			zap.Error(err))
		backoff *= 2
		if backoff > s.cfg.RetryMax {
			backoff = s.cfg.RetryMax
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, sub *subscription, d amqp.Delivery) {
	event := events.DomainEvent{
		RoutingKey: d.RoutingKey,
		Payload:    d.Body,
		EmittedAt:  d.Timestamp,
	}
	if event.RoutingKey == "" {
		event.RoutingKey = sub.routingKey
	}
	fields := []zap.Field{
		zap.String("routing_key", event.RoutingKey),
		zap.String("message_id", d.MessageId),
		zap.Bool("redelivered", d.Redelivered),
	}

	if !event.IsObject() {
		s.logger.Warn(ctx, "dropping unparseable event", fields...)
		s.ack(ctx, d, fields)
		s.metrics.Consumed(event.RoutingKey, "poison")
		return
	}

	err := s.invoke(ctx, sub.handler, event)
	switch {
	case err == nil:
		s.ack(ctx, d, fields)
		s.metrics.Consumed(event.RoutingKey, "acked")
	case errors.Is(err, postmesh_errors.ErrMalformedEvent):
		s.logger.Warn(ctx, "dropping malformed event", append(fields, zap.Error(err))...)
		s.ack(ctx, d, fields)
		s.metrics.Consumed(event.RoutingKey, "poison")
	default:
		s.logger.Error(ctx, "event handler failed", append(fields, zap.Error(err))...)
		s.metrics.Consumed(event.RoutingKey, "failed")
		if s.cfg.RequeueOnError {
			if nackErr := d.Nack(false, true); nackErr != nil {
				s.logger.Warn(ctx, "nack failed", append(fields, zap.Error(nackErr))...)
			}
		}
	}
}

func (s *Subscriber) invoke(ctx context.Context, handler events.Handler, event events.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

func (s *Subscriber) ack(ctx context.Context, d amqp.Delivery, fields []zap.Field) {
	if err := d.Ack(false); err != nil {
		s.logger.Warn(ctx, "ack failed", append(fields, zap.Error(err))...)
	}
}

// Stop stops taking new deliveries, cancels the broker consumers and waits for
// in-flight handlers to return. Unhandled deliveries go back to the broker
// when the channel closes.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	subs := append([]*subscription(nil), s.subs...)
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		s.cancelConsumer(sub)
	}

	s.loops.Wait()
	for _, sub := range subs {
		sub.inflight.Wait()
	}
}

func (s *Subscriber) cancelConsumer(sub *subscription) {
	sub.mu.Lock()
	ch, tag := sub.channel, sub.tag
	sub.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		_ = ch.Cancel(tag, false)
	}
}
