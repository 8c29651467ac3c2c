package txeventq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgeflare/txeventq/pkg/pipeline"
	"github.com/edgeflare/txeventq/pkg/pipeline/peer/kafka"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/txeventq/memory"
	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/edgeflare/txeventq/pkg/txeventq/oracle"
	"github.com/edgeflare/txeventq/pkg/txeventq/task"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Peer modes
const (
	ModeSink   = "sink"
	ModeSource = "source"
)

// Queue backends
const (
	BackendOracle = "oracle"
	BackendMemory = "memory"
)

var ErrDequeueUnsupported = errors.New("txeventq: backend cannot dequeue")

// Config is the peer configuration. Task settings sit at the top level.
type Config struct {
	task.Config `mapstructure:",squash"`
	Mode        string        `mapstructure:"mode"`
	Backend     string        `mapstructure:"backend"`
	Shards      uint32        `mapstructure:"shards"` // memory backend only
	Database    oracle.Config `mapstructure:"database"`
	Offsets     OffsetsConfig `mapstructure:"offsets"`
	Kafka       kafka.Config  `mapstructure:"kafka"`
	// FlushInterval bounds how long a sink holds a partial batch.
	FlushInterval time.Duration `mapstructure:"flushInterval"`
}

// DecodeConfig decodes a peer config map, accepting durations as strings.
func DecodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := dec.Decode(raw); err != nil {
		return cfg, fmt.Errorf("decode txeventq config: %w", err)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSink
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendOracle
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	cfg.Kafka.SetDefaults()
	return cfg, nil
}

// PeerTxEventQ connects a pipeline to a TxEventQ queue. As a sink it
// batches records into SinkTask.Put and resolves resume offsets for Kafka
// sources; as a source it polls a SourceTask.
type PeerTxEventQ struct {
	cfg    Config
	logger *zap.Logger

	sink    *task.SinkTask
	source  *task.SourceTask
	tracker *offset.Tracker

	mu       sync.Mutex
	batch    []record.Record
	flushErr error
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// Connect builds and starts the task. args may carry a *zap.Logger,
// offset.Option values for the tracker and, to replace what the config would
// build, a task.Queue, task.Dequeuer, task.TopicInspector or offset.Store.
func (p *PeerTxEventQ) Connect(config json.RawMessage, args ...any) error {
	var raw map[string]any
	if err := json.Unmarshal(config, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal txeventq config: %w", err)
	}
	cfg, err := DecodeConfig(raw)
	if err != nil {
		return err
	}

	var (
		queue     task.Queue
		dequeuer  task.Dequeuer
		topics    task.TopicInspector
		store     offset.Store
		trackOpts []offset.Option
	)
	logger := zap.NewNop()
	for _, a := range args {
		switch v := a.(type) {
		case *zap.Logger:
			logger = v
		case offset.Store:
			store = v
		case offset.Option:
			trackOpts = append(trackOpts, v)
		}
		if q, ok := a.(task.Queue); ok {
			queue = q
		}
		if d, ok := a.(task.Dequeuer); ok {
			dequeuer = d
		}
		if t, ok := a.(task.TopicInspector); ok {
			topics = t
		}
	}

	p.cfg = cfg
	p.logger = logger.With(zap.String("peer", pipeline.ConnectorTxEventQ), zap.String("mode", cfg.Mode))

	var db *oracle.Client
	if queue == nil {
		switch cfg.Backend {
		case BackendOracle:
			db = oracle.NewClient(cfg.Database, p.logger)
			queue = db
		case BackendMemory:
			b := memory.NewBroker()
			b.CreateQueue(cfg.QueueSchema, cfg.QueueName, max(cfg.Shards, 1))
			queue = b
			if dequeuer == nil {
				dequeuer = b
			}
		default:
			return fmt.Errorf("unknown backend %q", cfg.Backend)
		}
	}

	ctx := context.Background()
	switch cfg.Mode {
	case ModeSink:
		return p.connectSink(ctx, queue, db, topics, store, trackOpts)
	case ModeSource:
		if dequeuer == nil {
			return fmt.Errorf("%w: %s", ErrDequeueUnsupported, cfg.Backend)
		}
		src, err := task.NewSourceTask(cfg.Config, dequeuer, p.logger)
		if err != nil {
			return err
		}
		if err := queue.Connect(ctx); err != nil {
			return err
		}
		p.source = src
		return nil
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func (p *PeerTxEventQ) connectSink(ctx context.Context, queue task.Queue, db *oracle.Client, topics task.TopicInspector, store offset.Store, opts []offset.Option) error {
	var err error
	if store == nil {
		if store, err = p.cfg.Offsets.OpenStore(ctx, db, p.logger); err != nil {
			return err
		}
	}
	if topics == nil {
		topics = kafka.NewClient(&p.cfg.Kafka, p.logger)
	}

	p.tracker = offset.NewTracker(store, append([]offset.Option{offset.WithLogger(p.logger)}, opts...)...)
	p.sink = task.NewSinkTask(p.cfg.Config, queue, topics, p.tracker, p.logger)
	if err := p.sink.Start(ctx); err != nil {
		store.Close()
		return err
	}

	flushCtx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	p.wg.Add(1)
	go p.flushLoop(flushCtx)
	return nil
}

func (p *PeerTxEventQ) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if err := p.flushLocked(ctx); err != nil {
				p.logger.Error("flush", zap.Error(err))
			}
			p.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// flushLocked retries uncommitted offsets, then enqueues the pending batch.
// A batch that never reached the queue is kept for the next flush. A batch
// that did, or that holds an invalid record, is dropped. Either way the
// error sticks until a later flush succeeds. p.mu must be held.
func (p *PeerTxEventQ) flushLocked(ctx context.Context) error {
	if p.sink.HasPending() {
		if err := p.sink.CommitPending(ctx); err != nil {
			p.flushErr = fmt.Errorf("%w: %w", task.ErrUncommitted, err)
			return p.flushErr
		}
		if errors.Is(p.flushErr, task.ErrUncommitted) {
			p.flushErr = nil
		}
	}
	if len(p.batch) == 0 {
		return nil
	}

	err := p.sink.Put(ctx, p.batch)
	switch {
	case err == nil, errors.Is(err, task.ErrUncommitted):
		p.batch = p.batch[:0]
	case errors.Is(err, task.ErrInvalidRecord):
		p.logger.Error("dropping batch", zap.Int("records", len(p.batch)), zap.Error(err))
		p.batch = p.batch[:0]
	}
	p.flushErr = err
	return err
}

// Pub adds r to the pending batch and flushes once it is full. An earlier
// failed flush is reported here.
func (p *PeerTxEventQ) Pub(r record.Record, _ ...any) error {
	if p.sink == nil {
		return pipeline.ErrConnectorTypeMismatch
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushErr != nil {
		return p.flushErr
	}
	p.batch = append(p.batch, r)
	if len(p.batch) >= p.cfg.BatchSize {
		return p.flushLocked(context.Background())
	}
	return nil
}

// ResumeOffsets reports where the sink's topic should be consumed from.
func (p *PeerTxEventQ) ResumeOffsets(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error) {
	if p.sink == nil {
		return nil, pipeline.ErrConnectorTypeMismatch
	}
	if topic != p.cfg.Topic {
		return nil, fmt.Errorf("topic %s is not tracked by this sink (tracks %s)", topic, p.cfg.Topic)
	}
	return p.sink.Open(ctx, partitions)
}

// Sub polls the queue until Disconnect, acking each batch once every record
// of it was handed to the pipeline.
func (p *PeerTxEventQ) Sub(_ ...any) (<-chan record.Record, error) {
	if p.source == nil {
		return nil, pipeline.ErrConnectorTypeMismatch
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	out := make(chan record.Record)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		for {
			records, err := p.source.Poll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("poll", zap.Error(err))
				}
				return
			}
			for _, r := range records {
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
			if err := p.source.Commit(ctx); err != nil {
				p.logger.Error("commit", zap.Error(err))
				return
			}
		}
	}()
	return out, nil
}

func (p *PeerTxEventQ) Type() pipeline.ConnectorType {
	if p.cfg.Mode == ModeSource {
		return pipeline.ConnectorTypeSub
	}
	return pipeline.ConnectorTypePub
}

// Disconnect flushes what is pending and stops the task.
func (p *PeerTxEventQ) Disconnect() error {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	p.wg.Wait()

	if p.sink == nil {
		return nil
	}
	p.mu.Lock()
	err := p.flushLocked(context.Background())
	p.mu.Unlock()
	sink := p.sink
	p.sink = nil
	return errors.Join(err, sink.Stop())
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorTxEventQ, &PeerTxEventQ{})
}
