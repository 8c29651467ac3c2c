package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/txeventq/pkg/pipeline"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"go.uber.org/zap"
)

// PeerKafka implements the source and sink for Kafka. As a source it
// consumes Topics in a consumer group; when a sink in the same pipeline
// resolves offsets, every assigned partition starts from the sink's
// position instead of the group's.
type PeerKafka struct {
	config   *Config
	client   *Client
	producer sarama.SyncProducer
	logger   *zap.Logger

	mu       sync.Mutex
	resolver pipeline.OffsetResolver
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Connect accepts a *zap.Logger in args.
func (p *PeerKafka) Connect(config json.RawMessage, args ...any) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal Kafka config: %w", err)
	}
	cfg.SetDefaults()

	p.logger = zap.NewNop()
	for _, a := range args {
		if l, ok := a.(*zap.Logger); ok {
			p.logger = l
		}
	}

	p.config = &cfg
	p.client = NewClient(&cfg, p.logger)

	producer, err := p.client.CreateProducer()
	if err != nil {
		return err
	}
	p.producer = producer

	if cfg.CreateTopic && cfg.Topic != "" {
		if err := p.client.EnsureTopic(cfg.Topic); err != nil {
			producer.Close()
			return fmt.Errorf("failed to ensure topic %s: %w", cfg.Topic, err)
		}
	}

	return nil
}

// Pub produces r to r.Topic, or to the configured topic when r has none.
func (p *PeerKafka) Pub(r record.Record, args ...any) error {
	if p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	topic := r.Topic
	if topic == "" {
		topic = p.config.Topic
	}
	if topic == "" {
		return errors.New("record has no topic and no default topic is configured")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(r.Value),
		Timestamp: r.Timestamp,
	}
	if r.Key != nil {
		msg.Key = sarama.ByteEncoder(r.Key)
	}
	for _, h := range r.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("published record",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *PeerKafka) SetOffsetResolver(r pipeline.OffsetResolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolver = r
}

// Sub joins the consumer group and streams records of the configured
// topics until Disconnect.
func (p *PeerKafka) Sub(args ...any) (<-chan record.Record, error) {
	if p.client == nil {
		return nil, fmt.Errorf("kafka peer not connected")
	}
	if len(p.config.Topics) == 0 {
		return nil, fmt.Errorf("no topics configured for kafka source")
	}

	group, err := p.client.CreateConsumerGroup()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan record.Record)

	p.mu.Lock()
	p.group = group
	p.cancel = cancel
	handler := &groupHandler{resolver: p.resolver, out: out, logger: p.logger}
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		defer close(out)
		for {
			if err := group.Consume(ctx, p.config.Topics, handler); err != nil {
				if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				p.logger.Error("consume", zap.Error(err))
				time.Sleep(time.Second)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range group.Errors() {
			p.logger.Warn("consumer group error", zap.Error(err))
		}
	}()

	return out, nil
}

func (p *PeerKafka) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePubSub
}

func (p *PeerKafka) Disconnect() error {
	p.mu.Lock()
	cancel, group := p.cancel, p.group
	p.cancel, p.group = nil, nil
	p.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
	}
	if group != nil {
		errs = append(errs, group.Close())
		p.wg.Wait()
	}
	if p.producer != nil {
		errs = append(errs, p.producer.Close())
		p.producer = nil
	}
	return errors.Join(errs...)
}

// Client returns the admin client, or nil before Connect.
func (p *PeerKafka) Client() *Client {
	return p.client
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorKafka, &PeerKafka{})
}

type groupHandler struct {
	resolver pipeline.OffsetResolver
	out      chan<- record.Record
	logger   *zap.Logger
}

// Setup moves every claimed partition to the resolver's position. Group
// offsets are never committed, so without a resolver consumption starts
// from the oldest offset.
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	if h.resolver == nil {
		return nil
	}
	for topic, partitions := range session.Claims() {
		resume, err := h.resolver.ResumeOffsets(session.Context(), topic, partitions)
		if err != nil {
			return fmt.Errorf("resolve offsets of %s: %w", topic, err)
		}
		for partition, off := range resume {
			if off < 0 {
				continue
			}
			// MarkOffset only moves forward, ResetOffset only backward.
			session.MarkOffset(topic, partition, off, "")
			session.ResetOffset(topic, partition, off, "")
			h.logger.Info("resuming partition",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", off))
		}
	}
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.out <- toRecord(msg):
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func toRecord(msg *sarama.ConsumerMessage) record.Record {
	b := record.NewBuilder(msg.Topic).
		WithPartition(msg.Partition).
		WithOffset(msg.Offset).
		WithKey(msg.Key).
		WithValue(msg.Value).
		WithTimestamp(msg.Timestamp)
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		b.WithHeader(string(h.Key), h.Value)
	}
	return b.Build()
}
