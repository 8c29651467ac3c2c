package bolt

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edgeflare/txeventq/pkg/txeventq/offset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bb "go.etcd.io/bbolt"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func openTemp(t *testing.T) (offset.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offsets.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t)

	key := offset.Key{Topic: "orders", Queue: "ORDERS_Q", Schema: "APP", Partition: 0}

	_, _, err := s.Get(ctx, key)
	require.ErrorIs(t, err, bb.ErrBucketNotFound, "get before ensure")

	require.NoError(t, s.Ensure(ctx))
	require.NoError(t, s.Ensure(ctx))

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, key, 100))
	require.NoError(t, s.Put(ctx, key, 50))

	pos, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), pos)
	require.NoError(t, s.Close())

	// positions survive a reopen
	s, err = Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Ensure(ctx))

	pos, ok, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), pos)
}

func TestKeyEncoding(t *testing.T) {
	a := offset.Key{Topic: "a", Queue: "bc", Schema: "S", Partition: 1}
	b := offset.Key{Topic: "ab", Queue: "c", Schema: "S", Partition: 1}
	assert.NotEqual(t, encodeKey(a), encodeKey(b))

	_, err := decodeValue([]byte{1, 2})
	require.ErrorIs(t, err, errCorruptValue)
	require.ErrorIs(t, err, offset.ErrPermanent)
}

func TestTrackerDoesNotRetryMissingBucket(t *testing.T) {
	s, _ := openTemp(t)
	tr := offset.NewTracker(s)
	t.Cleanup(func() { tr.Close() })

	// no Ensure: the bucket is missing, which no retry will fix
	start := time.Now()
	err := tr.Commit(context.Background(), "orders", "ORDERS_Q", "APP", 0, 1)
	require.ErrorIs(t, err, bb.ErrBucketNotFound)
	require.ErrorIs(t, err, offset.ErrPermanent)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStaleCommitIsLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	s, err := Open(filepath.Join(t.TempDir(), "offsets.db"), zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Ensure(ctx))

	key := offset.Key{Topic: "t", Queue: "Q", Schema: "S", Partition: 2}
	require.NoError(t, s.Put(ctx, key, 5))
	require.NoError(t, s.Put(ctx, key, 5))
	assert.Equal(t, 1, logs.FilterMessage("ignoring stale offset").Len())
}

func TestTrackerOnBolt(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	tr := offset.NewTracker(s)
	t.Cleanup(func() { tr.Close() })
	require.True(t, tr.EnsureStore(ctx))

	var wg sync.WaitGroup
	for p := range int32(4) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 20; i++ {
				assert.NoError(t, tr.Commit(ctx, "orders", "ORDERS_Q", "APP", p, i))
			}
		}()
	}
	wg.Wait()

	got, err := tr.Resume(ctx, "orders", "ORDERS_Q", "APP", []int32{0, 1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int32]int64{0: 20, 1: 20, 2: 20, 3: 20, 4: offset.ResumeFromBeginning}, got)
}
