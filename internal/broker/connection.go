package broker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"postmesh/pkg/logger"
	postmesh_errors "postmesh/pkg/errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeKind = "topic"

// Channel is the part of *amqp.Channel used by the publisher and subscriber.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// ChannelProvider hands out the shared channel and names the exchange it
// declared.
type ChannelProvider interface {
	EnsureChannel(ctx context.Context) (Channel, error)
	Exchange() string
}

// Dialer opens a logical connection and derives a channel from it. The
// returned notification channel receives the connection's close error.
type Dialer func(url string) (Channel, io.Closer, <-chan *amqp.Error, error)

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Channel, io.Closer, <-chan *amqp.Error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	return ch, conn, notify, nil
}

// Manager owns the broker connection and the channel derived from it. The
// channel is created on first use and recreated after the connection drops.
// All methods are safe for concurrent use.
type Manager struct {
	url      string
	exchange string
	dial     Dialer
	logger   *logger.Logger

	mu      sync.Mutex
	conn    io.Closer
	channel Channel
	closed  bool
}

func NewManager(url, exchange string, l *logger.Logger) *Manager {
	return NewManagerWithDialer(url, exchange, DialAMQP, l)
}

func NewManagerWithDialer(url, exchange string, dial Dialer, l *logger.Logger) *Manager {
	return &Manager{
		url:      url,
		exchange: exchange,
		dial:     dial,
		logger:   l,
	}
}

func (m *Manager) Exchange() string {
	return m.exchange
}

// EnsureChannel returns the live channel, connecting first if there is none.
// Callers arriving while a connect is in progress wait for it instead of
// opening their own connection.
func (m *Manager) EnsureChannel(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: manager closed", postmesh_errors.ErrBrokerUnavailable)
	}
	if m.channel != nil && !m.channel.IsClosed() {
		return m.channel, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The channel died but the connection may still be up.
	m.teardownLocked()

	ch, conn, notify, err := m.dial(m.url)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", postmesh_errors.ErrBrokerUnavailable, err)
	}
	if err := ch.ExchangeDeclare(m.exchange, exchangeKind, false, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declare exchange %q: %v", postmesh_errors.ErrBrokerUnavailable, m.exchange, err)
	}

	m.channel = ch
	m.conn = conn
	if notify != nil {
		go m.watch(ch, notify)
	}
	m.logger.Info(ctx, "connected to broker", zap.String("exchange", m.exchange))
	return ch, nil
}

// watch forgets the channel once its connection closes so the next
// EnsureChannel redials.
func (m *Manager) watch(ch Channel, notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify

	m.mu.Lock()
	if m.channel == ch {
		m.channel = nil
		m.conn = nil
	}
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}
	if ok && amqpErr != nil {
		m.logger.Warn(context.Background(), "broker connection lost",
			zap.Int("code", amqpErr.Code), zap.String("reason", amqpErr.Reason))
		return
	}
	m.logger.Warn(context.Background(), "broker connection closed")
}

func (m *Manager) teardownLocked() {
	if m.channel != nil {
		_ = m.channel.Close()
		m.channel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

// Close shuts the channel and connection down. Later EnsureChannel calls fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardownLocked()
}
