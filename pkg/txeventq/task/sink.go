// Package task runs the two directions of the connector: SinkTask moves
// Kafka records into a TxEventQ queue and tracks how far each partition got,
// SourceTask turns dequeued JMS messages back into Kafka records.
package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/edgeflare/txeventq/pkg/metrics"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/txeventq/codec"
	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/edgeflare/txeventq/pkg/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrTopicNotFound          = errors.New("kafka topic not found")
	ErrQueueNotFound          = errors.New("queue not found")
	ErrOffsetStoreUnavailable = errors.New("offset store unavailable")
	ErrNotStarted             = errors.New("task not started")
	// ErrInvalidRecord rejects a batch holding a record without a partition
	// or offset. Nothing of the batch is enqueued.
	ErrInvalidRecord = errors.New("record has no partition or offset")
	// ErrUncommitted means the batch is in the queue but some offsets are
	// not stored yet. The batch must not be put again; CommitPending
	// retries the offsets.
	ErrUncommitted = errors.New("batch enqueued, offsets not committed")
)

// Error tolerance of a SourceTask
const (
	ToleranceNone = "none"
	ToleranceAll  = "all"
)

// Config is shared by both task kinds. The sink reads Topic, queue and
// Include*; the source reads Topic, queue, Converter, ErrorsTolerance and
// BatchSize.
type Config struct {
	Topic       string `mapstructure:"topic"`
	QueueName   string `mapstructure:"queueName"`
	QueueSchema string `mapstructure:"queueSchema"`
	// IncludeHeaders frames key, value and headers into a version 2 payload.
	IncludeHeaders bool `mapstructure:"includeHeaders"`
	// IncludeMetadata copies topic, partition, offset and timestamp into
	// KAFKA_* message properties.
	IncludeMetadata bool   `mapstructure:"includeMetadata"`
	Converter       string `mapstructure:"converter"`
	ErrorsTolerance string `mapstructure:"errorsTolerance"`
	BatchSize       int    `mapstructure:"batchSize"`
}

func (c Config) validate() error {
	switch {
	case c.Topic == "":
		return errors.New("topic is required")
	case c.QueueName == "":
		return errors.New("queue name is required")
	case c.QueueSchema == "":
		return errors.New("queue schema is required")
	}
	return nil
}

// Version returns the build version of the connector.
func Version() string {
	return versioninfo.Current().Version
}

// SinkTask writes Kafka records to a queue. Put is not safe for concurrent
// use; Kafka hands a task one batch at a time.
type SinkTask struct {
	cfg     Config
	queue   Queue
	topics  TopicInspector
	tracker *offset.Tracker
	logger  *zap.Logger
	started bool
	// highest enqueued offset per partition not yet committed
	pending map[int32]int64
}

func NewSinkTask(cfg Config, queue Queue, topics TopicInspector, tracker *offset.Tracker, logger *zap.Logger) *SinkTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SinkTask{
		cfg:     cfg,
		queue:   queue,
		topics:  topics,
		tracker: tracker,
		pending: make(map[int32]int64),
		logger:  logger.With(zap.String("topic", cfg.Topic), zap.String("queue", cfg.QueueSchema+"."+cfg.QueueName)),
	}
}

// Start connects to the queue and refuses to run unless the topic and queue
// exist, every partition has a shard and offsets can be stored.
func (t *SinkTask) Start(ctx context.Context) (err error) {
	if err := t.cfg.validate(); err != nil {
		return err
	}
	if err := t.queue.Connect(ctx); err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer func() {
		if err != nil {
			t.queue.Close()
		}
	}()

	ok, err := t.topics.TopicExists(ctx, t.cfg.Topic)
	if err != nil {
		return fmt.Errorf("lookup topic %s: %w", t.cfg.Topic, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, t.cfg.Topic)
	}

	ok, err = t.queue.QueueExists(ctx, t.cfg.QueueSchema, t.cfg.QueueName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrQueueNotFound, t.cfg.QueueSchema, t.cfg.QueueName)
	}

	partitions, err := t.topics.PartitionCount(ctx, t.cfg.Topic)
	if err != nil {
		return fmt.Errorf("partition count of %s: %w", t.cfg.Topic, err)
	}
	shards, err := t.queue.ShardCount(ctx, t.cfg.QueueSchema, t.cfg.QueueName)
	if err != nil {
		return err
	}
	if err := CheckShardCapacity(partitions, shards); err != nil {
		return err
	}

	if !t.tracker.EnsureStore(ctx) {
		return ErrOffsetStoreUnavailable
	}

	t.started = true
	t.logger.Info("sink task started",
		zap.Uint32("partitions", partitions),
		zap.Uint32("shards", shards),
		zap.String("version", Version()))
	return nil
}

// Put enqueues records in one transaction and then records the highest
// offset seen per partition under the configured topic. Nothing is enqueued
// when a record is invalid or offsets of an earlier batch are still
// uncommitted, and nothing is committed when the enqueue fails.
func (t *SinkTask) Put(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	if !t.started {
		return ErrNotStarted
	}
	for _, r := range records {
		if r.Partition < 0 || r.Offset < 0 {
			return fmt.Errorf("%w: %s/%d@%d", ErrInvalidRecord, r.Topic, r.Partition, r.Offset)
		}
	}
	if err := t.CommitPending(ctx); err != nil {
		return fmt.Errorf("earlier batch: %w", err)
	}

	queue := t.cfg.QueueSchema + "." + t.cfg.QueueName
	timer := prometheus.NewTimer(metrics.BatchDuration.WithLabelValues(queue))
	defer timer.ObserveDuration()

	msgs := make([]jms.BytesMessage, 0, len(records))
	highest := make(map[int32]int64)
	for _, r := range records {
		msgs = append(msgs, t.toMessage(r))
		if cur, ok := highest[r.Partition]; !ok || r.Offset > cur {
			highest[r.Partition] = r.Offset
		}
	}

	if err := t.queue.Enqueue(ctx, t.cfg.QueueSchema, t.cfg.QueueName, msgs); err != nil {
		metrics.EnqueueErrors.WithLabelValues(queue).Inc()
		return fmt.Errorf("enqueue %d records: %w", len(msgs), err)
	}
	metrics.RecordsEnqueued.WithLabelValues(queue).Add(float64(len(msgs)))

	for p, o := range highest {
		if cur, ok := t.pending[p]; !ok || o > cur {
			t.pending[p] = o
		}
	}
	if err := t.CommitPending(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUncommitted, err)
	}

	t.logger.Debug("batch enqueued", zap.Int("records", len(msgs)), zap.Int("partitions", len(highest)))
	return nil
}

// HasPending reports whether enqueued offsets still wait for a commit.
func (t *SinkTask) HasPending() bool {
	return len(t.pending) > 0
}

// CommitPending stores the offsets of enqueued batches that an earlier
// commit failed on, lowest partition first.
func (t *SinkTask) CommitPending(ctx context.Context) error {
	partitions := slices.Sorted(maps.Keys(t.pending))
	for _, p := range partitions {
		if err := t.tracker.Commit(ctx, t.cfg.Topic, t.cfg.QueueName, t.cfg.QueueSchema, p, t.pending[p]); err != nil {
			return err
		}
		delete(t.pending, p)
		metrics.OffsetCommits.WithLabelValues(t.cfg.Topic, strconv.Itoa(int(p))).Inc()
	}
	return nil
}

func (t *SinkTask) toMessage(r record.Record) jms.BytesMessage {
	var m jms.BytesMessage
	if r.Key != nil {
		m.CorrelationID = string(r.Key)
	}

	if t.cfg.IncludeHeaders {
		headers := make([]codec.Header, len(r.Headers))
		for i, h := range r.Headers {
			headers[i] = codec.Header{Name: h.Key, Value: h.Value}
		}
		m.Body = codec.Encode(r.Key, r.Value, headers)
		m.SetProperty(jms.PropMessageVersion, jms.Int(int32(jms.PayloadV2)))
		m.SetProperty(jms.PropHeaderCount, jms.Int(int32(len(headers))))
	} else {
		m.Body = r.Value
		if m.Body == nil {
			m.Body = []byte{}
		}
		m.SetProperty(jms.PropMessageVersion, jms.Int(int32(jms.PayloadV1)))
	}
	m.SetProperty(jms.PropPartition, jms.ShardProperty(r.Partition))

	if t.cfg.IncludeMetadata {
		m.SetProperty(jms.PropKafkaTopic, jms.String(r.Topic))
		m.SetProperty(jms.PropKafkaPartition, jms.Int(r.Partition))
		m.SetProperty(jms.PropKafkaOffset, jms.Long(r.Offset))
		if !r.Timestamp.IsZero() {
			m.SetProperty(jms.PropKafkaTimestamp, jms.Long(r.Timestamp.UnixMilli()))
		}
	}
	return m
}

// Open returns the Kafka offset to resume each newly assigned partition from.
func (t *SinkTask) Open(ctx context.Context, partitions []int32) (map[int32]int64, error) {
	return t.tracker.Resume(ctx, t.cfg.Topic, t.cfg.QueueName, t.cfg.QueueSchema, partitions)
}

// PreCommit always returns an empty map: offsets are kept in the queue
// database, never in the Kafka consumer group.
func (t *SinkTask) PreCommit(map[int32]int64) map[int32]int64 {
	return map[int32]int64{}
}

// Stop closes the queue connection and the offset store.
func (t *SinkTask) Stop() error {
	t.started = false
	t.logger.Info("sink task stopped")
	return errors.Join(t.queue.Close(), t.tracker.Close())
}
