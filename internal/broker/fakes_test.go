package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	mu sync.Mutex

	closed       bool
	exchanges    []string
	durable      []bool
	queues       int
	bindings     []string
	published    []amqp.Publishing
	publishKeys  []string
	publishErr   error
	consumeErr   error
	streams      []chan amqp.Delivery
	consumeCalls int
	cancelled    []string
	// onConsume runs after Consume hands out a stream, outside the lock.
	onConsume func()
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name+"/"+kind)
	f.durable = append(f.durable, durable)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !exclusive || !autoDelete || durable || name != "" {
		return amqp.Queue{}, errors.New("queue must be anonymous, exclusive and auto-deleted")
	}
	f.queues++
	return amqp.Queue{Name: "amq.gen-test"}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, exchange+"/"+key)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	if f.consumeErr != nil {
		f.mu.Unlock()
		return nil, f.consumeErr
	}
	if autoAck {
		f.mu.Unlock()
		return nil, errors.New("deliveries must be acknowledged manually")
	}
	if f.consumeCalls >= len(f.streams) {
		f.streams = append(f.streams, make(chan amqp.Delivery, 16))
	}
	stream := f.streams[f.consumeCalls]
	f.consumeCalls++
	hook := f.onConsume
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return stream, nil
}

func (f *fakeChannel) cancelledTags() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, consumer)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	f.publishKeys = append(f.publishKeys, exchange+"/"+key)
	return nil
}

func (f *fakeChannel) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// stream returns the i-th delivery stream handed out by Consume, creating it
// ahead of time if needed.
func (f *fakeChannel) stream(i int) chan amqp.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.streams) <= i {
		f.streams = append(f.streams, make(chan amqp.Delivery, 16))
	}
	return f.streams[i]
}

func (f *fakeChannel) consumeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumeCalls
}

type fakeCloser struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeProvider struct {
	ch       *fakeChannel
	err      error
	exchange string
}

func (p *fakeProvider) EnsureChannel(ctx context.Context) (Channel, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.ch, nil
}

func (p *fakeProvider) Exchange() string {
	return p.exchange
}

type fakeAcker struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) ackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked)
}

func (a *fakeAcker) nackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nacked)
}

func delivery(acker *fakeAcker, tag uint64, key string, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  tag,
		RoutingKey:   key,
		Body:         []byte(body),
		Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
