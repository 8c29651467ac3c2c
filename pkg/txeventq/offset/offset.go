// Package offset tracks, per (Kafka topic, queue, queue schema, partition),
// the last Kafka offset that was durably handed to the queue.
//
// Offsets live next to the queue rather than in Kafka's consumer group, so a
// restart or rebalance resumes from what the queue actually holds. Commits
// never move a stored position backwards: a redelivered batch may present
// offsets that were already recorded, and those commits are ignored.
package offset

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ResumeFromBeginning is returned by Tracker.Resume for partitions that have
// never been tracked. It matches sarama.OffsetOldest.
const ResumeFromBeginning int64 = -2

// TableName is the table SQL stores keep offsets in.
const TableName = "TXEVENTQ_TRACK_OFFSETS"

var (
	// ErrInvalidPosition is returned for negative positions.
	ErrInvalidPosition = errors.New("invalid offset position")
	// ErrPermanent marks store errors that a retry cannot fix, such as a
	// missing table or an unreadable value. Commit gives up on them at once.
	ErrPermanent = errors.New("permanent offset store error")
)

// Key identifies one tracked partition.
type Key struct {
	Topic     string
	Queue     string
	Schema    string
	Partition int32
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s.%s/%d", k.Topic, k.Schema, k.Queue, k.Partition)
}

// Store is the durable backend. Put must keep the larger of the stored and
// the given position, atomically per key.
type Store interface {
	// Ensure creates the backing table or bucket if missing.
	Ensure(ctx context.Context) error
	// Get returns the stored position and whether one exists.
	Get(ctx context.Context, key Key) (int64, bool, error)
	// Put stores max(stored, position).
	Put(ctx context.Context, key Key, position int64) error
	Close() error
}

// Tracker records and restores per-partition positions on top of a Store.
// It is safe for concurrent use as long as the Store is.
type Tracker struct {
	store   Store
	logger  *zap.Logger
	backoff func() backoff.BackOff
}

type Option func(*Tracker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithBackOff sets the retry policy used by Commit.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(t *Tracker) { t.backoff = f }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  zap.NewNop(),
		backoff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureStore makes sure the store is usable. A false result means resumable
// delivery cannot be guaranteed and the caller must not start.
func (t *Tracker) EnsureStore(ctx context.Context) bool {
	if err := t.store.Ensure(ctx); err != nil {
		t.logger.Error("offset store unavailable", zap.Error(err))
		return false
	}
	return true
}

// Load returns the last committed position for the partition, if any.
func (t *Tracker) Load(ctx context.Context, topic, queue, schema string, partition int32) (int64, bool, error) {
	key := Key{Topic: topic, Queue: queue, Schema: schema, Partition: partition}
	pos, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("load offset %s: %w", key, err)
	}
	return pos, ok, nil
}

// Commit records position as processed. A position at or behind the stored
// one leaves the store unchanged. Store errors are retried with the same
// position until the backoff gives up or ctx is done, except those wrapping
// ErrPermanent.
func (t *Tracker) Commit(ctx context.Context, topic, queue, schema string, partition int32, position int64) error {
	if position < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	key := Key{Topic: topic, Queue: queue, Schema: schema, Partition: partition}

	op := func() error {
		err := t.store.Put(ctx, key, position)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		t.logger.Warn("retrying offset commit",
			zap.Stringer("key", key),
			zap.Int64("position", position),
			zap.Duration("delay", d),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(t.backoff(), ctx), notify); err != nil {
		return fmt.Errorf("commit offset %s=%d: %w", key, position, err)
	}
	t.logger.Debug("offset committed", zap.Stringer("key", key), zap.Int64("position", position))
	return nil
}

// Resume returns, for every partition, the Kafka offset to continue from:
// one past the committed position, or ResumeFromBeginning.
func (t *Tracker) Resume(ctx context.Context, topic, queue, schema string, partitions []int32) (map[int32]int64, error) {
	out := make(map[int32]int64, len(partitions))
	for _, p := range partitions {
		pos, ok, err := t.Load(ctx, topic, queue, schema, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out[p] = pos + 1
		} else {
			out[p] = ResumeFromBeginning
		}
		t.logger.Info("partition assigned",
			zap.String("topic", topic),
			zap.Int32("partition", p),
			zap.Int64("resume", out[p]))
	}
	return out, nil
}

func (t *Tracker) Close() error {
	return t.store.Close()
}
