package transform

import (
	"testing"

	"github.com/edgeflare/txeventq/internal/testutil"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *record.Record {
	t.Helper()
	var r record.Record
	testutil.Fixture(t, "record.json", &r)
	return &r
}

func chain(t *testing.T, configs ...Transformation) Func {
	t.Helper()
	m := NewManager()
	m.RegisterBuiltins()
	f, err := m.Chain(configs)
	require.NoError(t, err)
	return f
}

func TestHeaderToKey(t *testing.T) {
	f := chain(t, Transformation{Type: TypeHeaderToKey, Config: map[string]any{"header": "trace-id"}})

	in := fixture(t)
	out, err := f(in)
	require.NoError(t, err)
	assert.Equal(t, []byte("def456"), out.Key, "last header wins")
	assert.Equal(t, []byte("order-17"), in.Key, "input untouched")
	assert.Equal(t, in.Value, out.Value)
	assert.Equal(t, in.Headers, out.Headers)

	f = chain(t, Transformation{Type: TypeHeaderToKey, Config: map[string]any{"header": "missing"}})
	out, err = f(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
		keep   bool
	}{
		{"topic glob", map[string]any{"topics": []string{"ord*"}}, true},
		{"topic miss", map[string]any{"topics": []string{"payments"}}, false},
		{"excluded", map[string]any{"excludeTopics": []string{"orders"}}, false},
		{"pattern", map[string]any{"topicPattern": "^or.*s$"}, true},
		{"required header", map[string]any{"requireHeaders": []string{"tenant"}}, true},
		{"missing header", map[string]any{"requireHeaders": []string{"region"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := chain(t, Transformation{Type: TypeFilter, Config: tt.config})
			out, err := f(fixture(t))
			require.NoError(t, err)
			if tt.keep {
				assert.NotNil(t, out)
			} else {
				assert.Nil(t, out)
			}
		})
	}
}

func TestReplace(t *testing.T) {
	f := chain(t, Transformation{Type: TypeReplace, Config: map[string]any{
		"topics":  map[string]string{"orders": "orders.v2"},
		"headers": map[string]string{"tenant": "x-tenant"},
		"regex": []map[string]any{
			{"type": "topic", "pattern": `\.v2$`, "replace": "-v2"},
			{"type": "header", "pattern": "^trace-", "replace": "x-trace-"},
		},
	}})

	in := fixture(t)
	out, err := f(in)
	require.NoError(t, err)
	assert.Equal(t, "orders-v2", out.Topic)
	assert.Equal(t, "x-trace-id", out.Headers[0].Key)
	assert.Equal(t, "x-tenant", out.Headers[1].Key)
	assert.Equal(t, "orders", in.Topic)
	assert.Equal(t, "trace-id", in.Headers[0].Key)
}

func TestChainStopsOnDrop(t *testing.T) {
	f := chain(t,
		Transformation{Type: TypeFilter, Config: map[string]any{"topics": []string{"payments"}}},
		Transformation{Type: TypeHeaderToKey, Config: map[string]any{"header": "tenant"}},
	)
	out, err := f(fixture(t))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestChainRejectsBadConfig(t *testing.T) {
	m := NewManager()
	m.RegisterBuiltins()

	_, err := m.Chain([]Transformation{{Type: "unknown"}})
	require.Error(t, err)
	_, err = m.Chain([]Transformation{{Type: TypeHeaderToKey, Config: map[string]any{}}})
	require.Error(t, err)
	_, err = m.Chain([]Transformation{{Type: TypeFilter, Config: map[string]any{"topicPattern": "("}}})
	require.Error(t, err)
	_, err = m.Chain([]Transformation{{Type: TypeReplace, Config: map[string]any{
		"regex": []map[string]any{{"type": "table", "pattern": "x"}},
	}}})
	require.Error(t, err)
}
