package task

import (
	"context"

	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
)

// Queue is the enqueue side of a TxEventQ database. *oracle.Client and
// *memory.Broker implement it.
type Queue interface {
	Connect(ctx context.Context) error
	Close() error
	QueueExists(ctx context.Context, schema, name string) (bool, error)
	ShardCount(ctx context.Context, schema, name string) (uint32, error)
	Enqueue(ctx context.Context, schema, name string, msgs []jms.BytesMessage) error
}

// Dequeuer is the consuming side of a queue. Messages stay in flight until
// acked and are redelivered otherwise.
type Dequeuer interface {
	Dequeue(ctx context.Context, schema, name string, limit int) ([]*jms.Transport, error)
	Ack(ctx context.Context, schema, name string, ids []string) error
}

// TopicInspector answers metadata questions about Kafka topics.
type TopicInspector interface {
	TopicExists(ctx context.Context, topic string) (bool, error)
	PartitionCount(ctx context.Context, topic string) (uint32, error)
}
