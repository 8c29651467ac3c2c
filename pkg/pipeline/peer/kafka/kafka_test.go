package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToSaramaConfig(t *testing.T) {
	cfg := Config{Version: "3.6.0", SASL: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}}
	cfg.SetDefaults()
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, "teq", cfg.GroupID)

	conf, err := cfg.ToSaramaConfig()
	require.NoError(t, err)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), conf.Net.SASL.Mechanism)
	assert.IsType(t, &XDGSCRAMClient{}, conf.Net.SASL.SCRAMClientGeneratorFunc())
	assert.False(t, conf.Consumer.Offsets.AutoCommit.Enable)
	assert.Equal(t, sarama.OffsetOldest, conf.Consumer.Offsets.Initial)
	assert.Regexp(t, `^teq-[0-9a-f]{8}$`, conf.ClientID)

	cfg.SASL.Algorithm = "md5"
	_, err = cfg.ToSaramaConfig()
	require.Error(t, err)

	cfg = Config{Version: "not-a-version"}
	_, err = cfg.ToSaramaConfig()
	require.Error(t, err)

	cfg = Config{Version: "2.1.1", TLS: TLS{Enable: true, CAFile: "/does/not/exist"}}
	_, err = cfg.ToSaramaConfig()
	require.Error(t, err)
}

func TestXDGSCRAMClient(t *testing.T) {
	c := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, c.Begin("user", "pencil", ""))
	first, err := c.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=user")
	assert.False(t, c.Done())
}

func TestPubProducesRecord(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "fallback", msg.Topic)
		key, _ := msg.Key.Encode()
		assert.Equal(t, []byte("k"), key)
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, []byte("trace-id"), msg.Headers[0].Key)
		return nil
	})

	p := &PeerKafka{producer: producer, config: &Config{Topic: "fallback"}, logger: zap.NewNop()}
	r := record.NewBuilder("").WithKey([]byte("k")).WithValue([]byte("v")).WithHeader("trace-id", []byte("abc")).Build()
	require.NoError(t, p.Pub(r))

	p.config.Topic = ""
	require.Error(t, p.Pub(r))
}

func TestToRecord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := toRecord(&sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 3,
		Offset:    99,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Timestamp: ts,
		Headers:   []*sarama.RecordHeader{{Key: []byte("a"), Value: []byte("1")}, nil},
	})
	assert.Equal(t, record.Record{
		Topic:     "orders",
		Partition: 3,
		Offset:    99,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []record.Header{{Key: "a", Value: []byte("1")}},
		Timestamp: ts,
	}, r)
}

type resolverFunc func(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error)

func (f resolverFunc) ResumeOffsets(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error) {
	return f(ctx, topic, partitions)
}

type fakeSession struct {
	claims map[string][]int32
	marked map[int32]int64
	reset  map[int32]int64
}

func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) MemberID() string           { return "m" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) MarkOffset(_ string, p int32, off int64, _ string) {
	s.marked[p] = off
}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(_ string, p int32, off int64, _ string) {
	s.reset[p] = off
}
func (s *fakeSession) MarkMessage(*sarama.ConsumerMessage, string) {}
func (s *fakeSession) Context() context.Context                     { return context.Background() }

func TestGroupHandlerSetupResumes(t *testing.T) {
	session := &fakeSession{
		claims: map[string][]int32{"orders": {0, 1}},
		marked: map[int32]int64{},
		reset:  map[int32]int64{},
	}
	h := &groupHandler{
		logger: zap.NewNop(),
		resolver: resolverFunc(func(_ context.Context, topic string, partitions []int32) (map[int32]int64, error) {
			assert.Equal(t, "orders", topic)
			assert.ElementsMatch(t, []int32{0, 1}, partitions)
			return map[int32]int64{0: 42, 1: sarama.OffsetOldest}, nil
		}),
	}
	require.NoError(t, h.Setup(session))
	assert.Equal(t, map[int32]int64{0: 42}, session.marked)
	assert.Equal(t, map[int32]int64{0: 42}, session.reset)

	require.NoError(t, (&groupHandler{}).Setup(session))
}
