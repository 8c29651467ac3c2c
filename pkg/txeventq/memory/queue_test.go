package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/edgeflare/txeventq/pkg/txeventq/jms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	b.CreateQueue("app", "orders_q", 4)

	ok, err := b.QueueExists(ctx, "APP", "ORDERS_Q")
	require.NoError(t, err)
	assert.True(t, ok)

	shards, err := b.ShardCount(ctx, "app", "orders_q")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), shards)

	msg := jms.BytesMessage{CorrelationID: "k1", Body: []byte("v1")}
	msg.SetProperty(jms.PropMessageVersion, jms.Int(1))
	require.NoError(t, b.Enqueue(ctx, "app", "orders_q", []jms.BytesMessage{msg, {Body: []byte("v2")}}))

	got, err := b.Dequeue(ctx, "app", "orders_q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, jms.BytesBody("v1"), got[0].Body)
	assert.Equal(t, "k1", got[0].CorrelationID)
	assert.Equal(t, int32(1), got[0].Properties[jms.PropMessageVersion])
	assert.Regexp(t, `^ID:[0-9A-F]{32}$`, got[0].MessageID)

	pending, inflight := b.Len("app", "orders_q")
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, inflight)

	b.Recover()
	got, err = b.Dequeue(ctx, "app", "orders_q", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Redelivered)
	assert.Equal(t, int32(2), got[0].Attempts)

	require.NoError(t, b.Ack(ctx, "app", "orders_q", []string{got[0].MessageID, got[1].MessageID}))
	pending, inflight = b.Len("app", "orders_q")
	assert.Zero(t, pending)
	assert.Zero(t, inflight)
}

func TestBrokerRecoverKeepsOrder(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()
	b.CreateQueue("APP", "ORDERS_Q", 1)

	var msgs []jms.BytesMessage
	for i := range 20 {
		msgs = append(msgs, jms.BytesMessage{CorrelationID: fmt.Sprint(i)})
	}
	require.NoError(t, b.Enqueue(ctx, "APP", "ORDERS_Q", msgs))

	// two dequeues, one partial ack
	first, err := b.Dequeue(ctx, "APP", "ORDERS_Q", 8)
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, "APP", "ORDERS_Q", 8)
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, "APP", "ORDERS_Q", []string{first[2].MessageID}))

	b.Recover()
	got, err := b.Dequeue(ctx, "APP", "ORDERS_Q", 0)
	require.NoError(t, err)

	var order []string
	for _, m := range got {
		order = append(order, m.CorrelationID)
	}
	want := []string{"0", "1"}
	for i := 3; i < 20; i++ {
		want = append(want, fmt.Sprint(i))
	}
	assert.Equal(t, want, order)
	assert.True(t, got[0].Redelivered)
	assert.False(t, got[len(got)-1].Redelivered)
}

func TestBrokerDequeueBlocks(t *testing.T) {
	b := NewBroker()
	b.CreateQueue("app", "q", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Dequeue(ctx, "app", "q", 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan []*jms.Transport)
	go func() {
		got, _ := b.Dequeue(context.Background(), "app", "q", 1)
		done <- got
	}()
	require.NoError(t, b.Publish("app", "q", &jms.Transport{Body: jms.TextBody("hello")}))

	select {
	case got := <-done:
		require.Len(t, got, 1)
		assert.Equal(t, jms.TextBody("hello"), got[0].Body)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}

	require.NoError(t, b.Close())
	_, err = b.Dequeue(context.Background(), "app", "q", 1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestBrokerUnknownQueue(t *testing.T) {
	ctx := context.Background()
	b := NewBroker()

	ok, err := b.QueueExists(ctx, "app", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = b.ShardCount(ctx, "app", "nope")
	require.ErrorIs(t, err, ErrQueueNotFound)
	require.ErrorIs(t, b.Enqueue(ctx, "app", "nope", nil), ErrQueueNotFound)
	require.ErrorIs(t, b.Publish("app", "nope", &jms.Transport{}), ErrQueueNotFound)
}
