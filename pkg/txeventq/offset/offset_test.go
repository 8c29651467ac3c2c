package offset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	topic  = "orders"
	queue  = "ORDERS_Q"
	schema = "APP"
)

// flakyStore fails the first n calls of each operation.
type flakyStore struct {
	*MemoryStore
	mu        sync.Mutex
	putFails  int
	ensureErr error
	getErr    error
	putErr    error
	puts      []int64
}

func (s *flakyStore) Ensure(ctx context.Context) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	return s.MemoryStore.Ensure(ctx)
}

func (s *flakyStore) Get(ctx context.Context, key Key) (int64, bool, error) {
	if s.getErr != nil {
		return 0, false, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Put(ctx context.Context, key Key, position int64) error {
	s.mu.Lock()
	s.puts = append(s.puts, position)
	fail := s.putFails > 0
	if fail {
		s.putFails--
	}
	s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	if fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Put(ctx, key, position)
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func TestCommitAndLoad(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())
	require.True(t, tr.EnsureStore(ctx))

	_, ok, err := tr.Load(ctx, topic, queue, schema, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, 100))
	pos, ok, err := tr.Load(ctx, topic, queue, schema, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), pos)
}

func TestCommitIgnoresRegressions(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())

	for _, p := range []int64{100, 50, 100, 0, 99} {
		require.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, p))
		pos, _, err := tr.Load(ctx, topic, queue, schema, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(100), pos, "after commit of %d", p)
	}

	require.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, 101))
	pos, _, _ := tr.Load(ctx, topic, queue, schema, 0)
	assert.Equal(t, int64(101), pos)

	require.ErrorIs(t, tr.Commit(ctx, topic, queue, schema, 0, -1), ErrInvalidPosition)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())

	require.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, 10))
	require.NoError(t, tr.Commit(ctx, topic, queue, "OTHER", 0, 20))
	require.NoError(t, tr.Commit(ctx, "payments", queue, schema, 0, 30))

	pos, _, _ := tr.Load(ctx, topic, queue, schema, 0)
	assert.Equal(t, int64(10), pos)
	_, ok, _ := tr.Load(ctx, topic, queue, schema, 1)
	assert.False(t, ok)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	tr := NewTracker(NewMemoryStore(), WithLogger(zap.New(core)))

	require.NoError(t, tr.Commit(ctx, topic, queue, schema, 1, 41))

	got, err := tr.Resume(ctx, topic, queue, schema, []int32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, map[int32]int64{0: ResumeFromBeginning, 1: 42}, got)
	assert.Equal(t, 2, logs.FilterMessage("partition assigned").Len())
}

func TestCommitRetries(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	store := &flakyStore{MemoryStore: NewMemoryStore(), putFails: 2}
	tr := NewTracker(store, WithLogger(zap.New(core)), WithBackOff(fastBackOff))

	require.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, 7))
	assert.Equal(t, []int64{7, 7, 7}, store.puts, "retried with the same position")
	assert.Equal(t, 2, logs.FilterMessage("retrying offset commit").Len())

	store.putFails = 10
	err := tr.Commit(ctx, topic, queue, schema, 0, 8)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")

	pos, _, _ := tr.Load(ctx, topic, queue, schema, 0)
	assert.Equal(t, int64(7), pos)
}

func TestCommitGivesUpOnPermanentErrors(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	store := &flakyStore{MemoryStore: NewMemoryStore(), putErr: fmt.Errorf("%w: table dropped", ErrPermanent)}
	tr := NewTracker(store, WithLogger(zap.New(core)), WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 100)
	}))

	err := tr.Commit(ctx, topic, queue, schema, 0, 3)
	require.ErrorIs(t, err, ErrPermanent)
	assert.Len(t, store.puts, 1, "no retries")
	assert.Zero(t, logs.FilterMessage("retrying offset commit").Len())
}

func TestCommitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &flakyStore{MemoryStore: NewMemoryStore(), putFails: 100}
	tr := NewTracker(store, WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(0) }))
	require.Error(t, tr.Commit(ctx, topic, queue, schema, 0, 1))
}

func TestEnsureStoreFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	store := &flakyStore{MemoryStore: NewMemoryStore(), ensureErr: errors.New("ORA-01031: insufficient privileges")}
	tr := NewTracker(store, WithLogger(zap.New(core)))

	assert.False(t, tr.EnsureStore(context.Background()))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "offset store unavailable", logs.All()[0].Message)
}

func TestLoadError(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), getErr: errors.New("boom")}
	tr := NewTracker(store)

	_, _, err := tr.Load(context.Background(), topic, queue, schema, 3)
	require.ErrorContains(t, err, "orders/APP.ORDERS_Q/3")

	_, err = tr.Resume(context.Background(), topic, queue, schema, []int32{3})
	require.Error(t, err)
}

func TestConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(p int64) {
			defer wg.Done()
			assert.NoError(t, tr.Commit(ctx, topic, queue, schema, 0, p))
		}(int64(i))
	}
	wg.Wait()

	pos, _, _ := tr.Load(ctx, topic, queue, schema, 0)
	assert.Equal(t, int64(49), pos)
}
