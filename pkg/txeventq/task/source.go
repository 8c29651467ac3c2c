package task

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeflare/txeventq/pkg/metrics"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/txeventq/codec"
	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

// SourceTask polls a queue and turns each message into a Kafka record whose
// value is the serialised JMSMessage structure. Messages are acked only by
// Commit, after the records of the last Poll were delivered.
type SourceTask struct {
	cfg     Config
	queue   Dequeuer
	conv    jms.Converter
	logger  *zap.Logger
	pending []string
}

func NewSourceTask(cfg Config, queue Dequeuer, logger *zap.Logger) (*SourceTask, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.ErrorsTolerance {
	case "":
		cfg.ErrorsTolerance = ToleranceNone
	case ToleranceNone, ToleranceAll:
	default:
		return nil, fmt.Errorf("unknown errors tolerance %q", cfg.ErrorsTolerance)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	conv, err := jms.NewConverter(cfg.Converter)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceTask{
		cfg:    cfg,
		queue:  queue,
		conv:   conv,
		logger: logger.With(zap.String("queue", cfg.QueueSchema+"."+cfg.QueueName), zap.String("topic", cfg.Topic)),
	}, nil
}

// Poll blocks until messages are available and returns their records. With
// tolerance "none" the first untranslatable message fails the whole poll and
// nothing from it is acked; with "all" the message is logged, counted and
// acked without producing a record.
func (t *SourceTask) Poll(ctx context.Context) ([]record.Record, error) {
	msgs, err := t.queue.Dequeue(ctx, t.cfg.QueueSchema, t.cfg.QueueName, t.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	out := make([]record.Record, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		r, err := t.toRecord(msg)
		if err != nil {
			metrics.DecodeErrors.WithLabelValues(t.cfg.QueueSchema + "." + t.cfg.QueueName).Inc()
			if t.cfg.ErrorsTolerance == ToleranceNone {
				return nil, fmt.Errorf("message %s: %w", msg.MessageID, err)
			}
			t.logger.Warn("skipping message", zap.String("id", msg.MessageID), zap.Error(err))
			ids = append(ids, msg.MessageID)
			continue
		}
		out = append(out, r)
		ids = append(ids, msg.MessageID)
	}
	t.pending = append(t.pending, ids...)
	return out, nil
}

// Commit acks every message handed out by Poll since the last Commit.
func (t *SourceTask) Commit(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	if err := t.queue.Ack(ctx, t.cfg.QueueSchema, t.cfg.QueueName, t.pending); err != nil {
		return fmt.Errorf("ack %d messages: %w", len(t.pending), err)
	}
	t.logger.Debug("acked", zap.Int("count", len(t.pending)))
	t.pending = nil
	return nil
}

func (t *SourceTask) toRecord(msg *jms.Transport) (record.Record, error) {
	version, err := jms.MessageVersion(msg.Properties)
	if err != nil {
		return record.Record{}, err
	}

	var frame codec.Frame
	if body, ok := msg.Body.(jms.BytesBody); ok && version == jms.PayloadV2 {
		n, err := jms.HeaderCount(msg.Properties)
		if err != nil {
			return record.Record{}, err
		}
		if frame, err = codec.Decode(body, n); err != nil {
			return record.Record{}, err
		}
	}

	qm, err := jms.FromTransport(msg, version, frame.Value)
	if err != nil {
		return record.Record{}, err
	}
	value, err := t.conv.Convert(qm)
	if err != nil {
		return record.Record{}, err
	}

	b := record.NewBuilder(t.cfg.Topic).WithValue(value)
	switch {
	case frame.Key != nil:
		b.WithKey(frame.Key)
	case msg.CorrelationID != "":
		b.WithKey([]byte(msg.CorrelationID))
	}
	for _, h := range frame.Headers {
		b.WithHeader(h.Name, h.Value)
	}
	if msg.Timestamp > 0 {
		b.WithTimestamp(time.UnixMilli(msg.Timestamp))
	}
	return b.Build(), nil
}
