package jms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyRoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		value any
		kind  Kind
	}{
		{name: "null", value: nil, kind: KindNull},
		{name: "true", value: true, kind: KindBoolean},
		{name: "false", value: false, kind: KindBoolean},
		{name: "byte", value: int8(-128), kind: KindByte},
		{name: "short", value: int16(-32768), kind: KindShort},
		{name: "integer", value: int32(math.MaxInt32), kind: KindInteger},
		{name: "long", value: int64(math.MinInt64), kind: KindLong},
		{name: "float", value: float32(3.25), kind: KindFloat},
		{name: "double", value: math.SmallestNonzeroFloat64, kind: KindDouble},
		{name: "string", value: "hello", kind: KindString},
		{name: "empty string", value: "", kind: KindString},
		{name: "bytes", value: []byte{0, 1, 2}, kind: KindBytes},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := FromNative(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, p.Kind())
			// assert.Equal compares with ObjectsAreEqual, which keeps the
			// dynamic type: int16(1) != int32(1)
			assert.Equal(t, tc.value, p.Native())
		})
	}
}

func TestPropertyFloatBits(t *testing.T) {
	nan32 := math.Float32frombits(0x7fc00001)
	p, err := FromNative(nan32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7fc00001), math.Float32bits(p.Native().(float32)))

	negZero := math.Copysign(0, -1)
	p = Double(negZero)
	assert.Equal(t, math.Float64bits(negZero), math.Float64bits(p.Native().(float64)))
}

func TestPropertyWidthIsKept(t *testing.T) {
	assert.IsType(t, int16(0), Short(7).Native())
	assert.IsType(t, int8(0), Byte(7).Native())
	assert.IsType(t, float32(0), Float(7).Native())
	assert.False(t, Short(7).Equal(Int(7)))
	assert.True(t, Long(7).Equal(Long(7)))
}

func TestPropertyUnsupported(t *testing.T) {
	for _, v := range []any{
		42,
		uint8(1),
		uint64(1),
		map[string]any{"a": 1},
		[]string{"a"},
		struct{}{},
		complex(1, 2),
	} {
		_, err := FromNative(v)
		require.ErrorIs(t, err, ErrUnsupportedPropertyType, "%T", v)
	}
}

func TestPropertyBytesAreCopied(t *testing.T) {
	src := []byte("abc")
	p := Bytes(src)
	src[0] = 'x'
	assert.Equal(t, []byte("abc"), p.Native())

	out := p.Native().([]byte)
	out[0] = 'y'
	assert.Equal(t, []byte("abc"), p.Native())

	assert.Equal(t, []byte{}, Bytes(nil).Native())
}

func TestPropertyStruct(t *testing.T) {
	s := Short(12).Struct()
	require.NoError(t, s.Validate())

	kind, _ := s.Get("propertyType")
	assert.Equal(t, "short", kind)
	v, ok := s.Get("short")
	require.True(t, ok)
	assert.Equal(t, int16(12), v)
	_, ok = s.Get("integer")
	assert.False(t, ok)

	s = Null().Struct()
	require.NoError(t, s.Validate())
	kind, _ = s.Get("propertyType")
	assert.Equal(t, "null", kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "integer", KindInteger.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.Equal(t, "short(3)", Short(3).String())
	assert.Equal(t, "bytes(2)", Bytes([]byte{1, 2}).String())
}
