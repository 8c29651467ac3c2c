// Package memory is an in-process stand-in for a TxEventQ database: named
// sharded queues with enqueue, dequeue, ack and redelivery. It backs tests
// and dry runs of the connector.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"github.com/google/uuid"
)

var (
	ErrQueueNotFound = errors.New("memory: queue not found")
	ErrClosed        = errors.New("memory: closed")
)

type queue struct {
	shards   uint32
	pending  []*jms.Transport
	inflight []*jms.Transport // in dequeue order
}

// Broker holds any number of queues. The zero value is not usable; call
// NewBroker.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	notify chan struct{}
	closed bool
	now    func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
		notify: make(chan struct{}),
		now:    time.Now,
	}
}

func queueKey(schema, name string) string {
	return strings.ToUpper(schema) + "." + strings.ToUpper(name)
}

// CreateQueue adds an empty queue with the given shard count.
func (b *Broker) CreateQueue(schema, name string, shards uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queueKey(schema, name)] = &queue{shards: shards}
}

func (b *Broker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.wake()
	return nil
}

// wake releases blocked Dequeue calls; b.mu must be held.
func (b *Broker) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *Broker) QueueExists(_ context.Context, schema, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[queueKey(schema, name)]
	return ok, nil
}

func (b *Broker) ShardCount(_ context.Context, schema, name string) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueKey(schema, name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrQueueNotFound, queueKey(schema, name))
	}
	return q.shards, nil
}

// Enqueue stores msgs as bytes messages, all or nothing.
func (b *Broker) Enqueue(_ context.Context, schema, name string, msgs []jms.BytesMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	q, ok := b.queues[queueKey(schema, name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueKey(schema, name))
	}

	for _, m := range msgs {
		props := make(map[string]any, len(m.Properties))
		for k, v := range m.Properties {
			props[k] = v.Native()
		}
		q.pending = append(q.pending, b.transport(schema, name, m.CorrelationID, props, jms.BytesBody(m.Body)))
	}
	b.wake()
	return nil
}

// Publish adds a message of any shape, as another producer on the queue
// would. The message id, timestamp and destination are filled in when unset.
func (b *Broker) Publish(schema, name string, msg *jms.Transport) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueKey(schema, name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueKey(schema, name))
	}
	t := b.transport(schema, name, msg.CorrelationID, msg.Properties, msg.Body)
	if msg.MessageID != "" {
		t.MessageID = msg.MessageID
	}
	t.Priority, t.Expiration, t.Type, t.ReplyTo = msg.Priority, msg.Expiration, msg.Type, msg.ReplyTo
	q.pending = append(q.pending, t)
	b.wake()
	return nil
}

func (b *Broker) transport(schema, name, corr string, props map[string]any, body jms.Body) *jms.Transport {
	id := uuid.New()
	return &jms.Transport{
		MessageID:     "ID:" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")),
		CorrelationID: corr,
		Timestamp:     b.now().UnixMilli(),
		DeliveryMode:  jms.Persistent,
		Destination:   &jms.Destination{Type: jms.DestinationQueue, Name: queueKey(schema, name)},
		Attempts:      1,
		Properties:    props,
		Body:          body,
	}
}

// Dequeue returns up to limit messages, or all pending ones when limit <= 0.
// It blocks until at least one is available or ctx is done. Returned
// messages stay in flight until acked.
func (b *Broker) Dequeue(ctx context.Context, schema, name string, limit int) ([]*jms.Transport, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		q, ok := b.queues[queueKey(schema, name)]
		if !ok {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueKey(schema, name))
		}
		if len(q.pending) > 0 {
			n := min(limit, len(q.pending))
			if n <= 0 {
				n = len(q.pending)
			}
			out := make([]*jms.Transport, n)
			copy(out, q.pending[:n])
			q.pending = q.pending[n:]
			q.inflight = append(q.inflight, out...)
			b.mu.Unlock()
			return out, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Ack removes in-flight messages for good.
func (b *Broker) Ack(_ context.Context, schema, name string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueKey(schema, name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueKey(schema, name))
	}
	acked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acked[id] = struct{}{}
	}
	q.inflight = slices.DeleteFunc(q.inflight, func(m *jms.Transport) bool {
		_, ok := acked[m.MessageID]
		return ok
	})
	return nil
}

// Recover puts every in-flight message back at the head of its queue, in the
// order they were dequeued, marked redelivered with one more attempt.
func (b *Broker) Recover() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		if len(q.inflight) == 0 {
			continue
		}
		for _, m := range q.inflight {
			m.Redelivered = true
			m.Attempts++
		}
		q.pending = append(q.inflight, q.pending...)
		q.inflight = nil
	}
	b.wake()
}

// Len returns the number of pending and in-flight messages of a queue.
func (b *Broker) Len(schema, name string) (pending, inflight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueKey(schema, name)]
	if !ok {
		return 0, 0
	}
	return len(q.pending), len(q.inflight)
}
