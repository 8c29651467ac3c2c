package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/pipeline/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	records  chan record.Record
	resolver OffsetResolver
	connects int
}

func (s *fakeSource) Connect(json.RawMessage, ...any) error {
	s.connects++
	if s.connects == 1 {
		return errors.New("broker not ready")
	}
	return nil
}
func (s *fakeSource) Pub(record.Record, ...any) error { return ErrConnectorTypeMismatch }
func (s *fakeSource) Sub(...any) (<-chan record.Record, error) {
	return s.records, nil
}
func (s *fakeSource) Type() ConnectorType                 { return ConnectorTypeSub }
func (s *fakeSource) Disconnect() error                   { return nil }
func (s *fakeSource) SetOffsetResolver(r OffsetResolver) { s.resolver = r }

type fakeSink struct {
	mu      sync.Mutex
	got     []record.Record
	failOn  string
	cfg     map[string]any
	arrived chan struct{}
}

func (s *fakeSink) Connect(config json.RawMessage, _ ...any) error {
	return json.Unmarshal(config, &s.cfg)
}
func (s *fakeSink) Pub(r record.Record, _ ...any) error {
	defer func() { s.arrived <- struct{}{} }()
	if string(r.Key) == s.failOn {
		return errors.New("queue full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, r)
	return nil
}
func (s *fakeSink) Sub(...any) (<-chan record.Record, error) { return nil, ErrConnectorTypeMismatch }
func (s *fakeSink) Type() ConnectorType                      { return ConnectorTypePub }
func (s *fakeSink) Disconnect() error                        { return nil }
func (s *fakeSink) ResumeOffsets(context.Context, string, []int32) (map[int32]int64, error) {
	return map[int32]int64{0: 1}, nil
}

func TestManagerRunsPipeline(t *testing.T) {
	src := &fakeSource{records: make(chan record.Record, 4)}
	sink := &fakeSink{failOn: "poison", arrived: make(chan struct{}, 4)}
	RegisterConnector("test-source", src)
	RegisterConnector("test-sink", sink)

	cfg := &Config{
		Peers: []Peer{
			{Name: "in", ConnectorName: "test-source"},
			{Name: "out", ConnectorName: "test-sink", Config: map[string]any{"queue": "ORDERS_Q"}},
		},
		Pipelines: []Pipeline{{
			Name:    "orders",
			Sources: []Source{{Name: "in"}},
			Transformations: []transform.Transformation{
				{Type: transform.TypeFilter, Config: map[string]any{"topics": []string{"orders"}}},
			},
			Sinks: []Sink{{Name: "out", Transformations: []transform.Transformation{
				{Type: transform.TypeHeaderToKey, Config: map[string]any{"header": "id"}},
			}}},
		}},
	}

	m := NewManager(zap.NewNop())
	m.ConnectBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }
	require.NoError(t, m.Init(cfg))
	assert.Equal(t, 2, src.connects)
	assert.Equal(t, "ORDERS_Q", sink.cfg["queue"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	errChan := make(chan error, 1)
	require.NoError(t, m.Start(ctx, cfg, &wg, errChan))
	assert.Same(t, sink, src.resolver)

	src.records <- record.NewBuilder("payments").WithOffset(0).Build()
	src.records <- record.NewBuilder("orders").WithOffset(1).WithHeader("id", []byte("o-1")).Build()
	src.records <- record.NewBuilder("orders").WithOffset(2).WithHeader("id", []byte("poison")).Build()

	for range 2 {
		select {
		case <-sink.arrived:
		case <-time.After(time.Second):
			t.Fatal("record did not reach the sink")
		}
	}

	select {
	case err := <-errChan:
		require.ErrorContains(t, err, "queue full")
	case <-time.After(time.Second):
		t.Fatal("publish error not reported")
	}

	sink.mu.Lock()
	require.Len(t, sink.got, 1)
	assert.Equal(t, []byte("o-1"), sink.got[0].Key)
	sink.mu.Unlock()

	cancel()
	wg.Wait()
}

func TestManagerStopsOnTransformationError(t *testing.T) {
	broken := []transform.Transformation{{Type: transform.TypeReplace, Config: map[string]any{}}}
	tests := []struct {
		name     string
		pipeline []transform.Transformation
		sink     []transform.Transformation
		want     string
	}{
		{name: "pipeline", pipeline: broken, want: "pipeline orders transform"},
		{name: "sink", sink: broken, want: "transform for out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{records: make(chan record.Record, 2)}
			sink := &fakeSink{arrived: make(chan struct{}, 2)}
			RegisterConnector("transform-source-"+tt.name, src)
			RegisterConnector("transform-sink-"+tt.name, sink)

			cfg := &Config{
				Peers: []Peer{
					{Name: "in", ConnectorName: "transform-source-" + tt.name},
					{Name: "out", ConnectorName: "transform-sink-" + tt.name},
				},
				Pipelines: []Pipeline{{
					Name:            "orders",
					Sources:         []Source{{Name: "in"}},
					Transformations: tt.pipeline,
					Sinks:           []Sink{{Name: "out", Transformations: tt.sink}},
				}},
			}

			m := NewManager(zap.NewNop())
			m.ConnectBackOff = func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }
			require.NoError(t, m.Init(cfg))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var wg sync.WaitGroup
			errChan := make(chan error, 1)
			require.NoError(t, m.Start(ctx, cfg, &wg, errChan))

			src.records <- record.NewBuilder("orders").WithOffset(1).Build()
			src.records <- record.NewBuilder("orders").WithOffset(2).Build()

			select {
			case err := <-errChan:
				require.ErrorContains(t, err, tt.want)
			case <-time.After(time.Second):
				t.Fatal("transformation error not reported")
			}

			cancel()
			wg.Wait()
			sink.mu.Lock()
			assert.Empty(t, sink.got, "no record passes a failed one")
			sink.mu.Unlock()
		})
	}
}

func TestManagerUnknownConnector(t *testing.T) {
	m := NewManager(zap.NewNop())
	err := m.Init(&Config{Peers: []Peer{{Name: "x", ConnectorName: "does-not-exist"}}})
	require.Error(t, err)

	_, err = m.GetPeer("x")
	require.Error(t, err)
}

func TestManagerMissingPlugin(t *testing.T) {
	m := NewManager(zap.NewNop())
	err := m.Init(&Config{Plugins: []Plugin{{Name: "custom", Path: t.TempDir() + "/missing.so"}}})
	require.ErrorContains(t, err, "plugin custom")
}
